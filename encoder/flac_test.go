package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mewkiz/flac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeesubKim/live-trans-sub000/pipeline"
)

func sine(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return s
}

func pcmBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func decode(t *testing.T, path string) []int16 {
	t.Helper()
	stream, err := flac.ParseFile(path)
	require.NoError(t, err)
	defer stream.Close()
	assert.EqualValues(t, SampleRate, stream.Info.SampleRate)
	assert.EqualValues(t, 1, stream.Info.NChannels)

	var out []int16
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		for _, s := range f.Subframes[0].Samples {
			out = append(out, int16(s))
		}
	}
	return out
}

func TestFlacEncoderHeader(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewFlac(&buf)
	require.NoError(t, err)
	require.NoError(t, enc.EncodeBlock(sine(BlockSize/4)))
	assert.Error(t, enc.EncodeBlock(make([]int16, BlockSize+1)))
	require.NoError(t, enc.Close())

	assert.EqualValues(t, BlockSize/4, enc.TotalFrames())
	require.GreaterOrEqual(t, buf.Len(), 4)
	assert.Equal(t, "fLaC", buf.String()[:4])
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArchive(filepath.Join(dir, "logs", "session_1.flac"))
	require.NoError(t, err)

	samples := sine(BlockSize*2 + 1000)
	pcm := pcmBytes(samples)
	// uneven chunks, including one that splits a block boundary
	for _, n := range []int{3200, 5000, len(pcm) - 8200} {
		require.NoError(t, a.ConsumeRawAudio(pipeline.RawAudioData{PCM: pcm[:n]}))
		pcm = pcm[n:]
	}
	assert.Equal(t, time.Duration(len(samples))*time.Second/SampleRate, a.Duration())

	dst := filepath.Join(dir, "subs", "talk.flac")
	got, err := a.Finish(dst)
	require.NoError(t, err)
	assert.Equal(t, dst, got)
	assert.Equal(t, dst, a.Path())
	assert.NoFileExists(t, filepath.Join(dir, "logs", "session_1.flac"))

	assert.Equal(t, samples, decode(t, dst))

	assert.ErrorIs(t, a.ConsumeRawAudio(pipeline.RawAudioData{PCM: []byte{1, 2}}), ErrArchiveClosed)
	_, err = a.Finish(dst)
	assert.ErrorIs(t, err, ErrArchiveClosed)
}

func TestArchiveDiscard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.flac")
	a, err := NewArchive(path)
	require.NoError(t, err)
	require.NoError(t, a.ConsumeRawAudio(pipeline.RawAudioData{PCM: pcmBytes(sine(100))}))
	require.NoError(t, a.Discard())
	assert.NoFileExists(t, path)
	require.NoError(t, a.Discard())
}

func TestAudioPath(t *testing.T) {
	assert.Equal(t, filepath.Join("x", "talk.flac"), AudioPath(filepath.Join("x", "talk.subs")))
}

func TestArchiveEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.flac")
	a, err := NewArchive(path)
	require.NoError(t, err)
	_, err = a.Finish(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Empty(t, decode(t, path))
}

func TestArchiveMoveAfterFinish(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArchive(filepath.Join(dir, "session_1.flac"))
	require.NoError(t, err)
	samples := sine(3000)
	require.NoError(t, a.ConsumeRawAudio(pipeline.RawAudioData{PCM: pcmBytes(samples)}))

	assert.Error(t, a.Move(filepath.Join(dir, "early.flac")))

	_, err = a.Finish(filepath.Join(dir, "subs", "talk.flac"))
	require.NoError(t, err)
	back := filepath.Join(dir, "sessions", "session_1.flac")
	require.NoError(t, a.Move(back))
	assert.Equal(t, back, a.Path())
	assert.NoFileExists(t, filepath.Join(dir, "subs", "talk.flac"))
	assert.Equal(t, samples, decode(t, back))
}
