package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeesubKim/live-trans-sub000/encoder"
	"github.com/JeesubKim/live-trans-sub000/fileq"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

type fixture struct {
	q        *fileq.Queue
	store    *subtitle.Store
	logDir   string
	storeDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	q := fileq.New(fileq.WithSync(false))
	t.Cleanup(func() { q.Close(context.Background()) })
	f := &fixture{q: q, logDir: filepath.Join(root, "logs"), storeDir: filepath.Join(root, "subs")}
	f.store = subtitle.NewStore(f.storeDir, q)
	return f
}

func (f *fixture) manager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(f.logDir, f.q, f.store, opts...)
	require.NoError(t, m.Open(context.Background()))
	return m
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.q.Flush().Wait(context.Background()))
}

func tempLogs(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+LogExt))
	require.NoError(t, err)
	return matches
}

func TestStartSessionRequiresOpen(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.logDir, f.q, f.store)
	_, err := m.StartSession(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestStartSessionWritesHeader(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	id, err := m.StartSession(context.Background())
	require.NoError(t, err)
	f.flush(t)

	s, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, id, s.ID)

	data, err := os.ReadFile(s.LogPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"type":"session_header"`)
	assert.Contains(t, lines[0], `"sessionId":"`+id+`"`)
}

func TestFinalizeRoundTrip(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	ctx := context.Background()
	_, err := m.StartSession(ctx)
	require.NoError(t, err)

	var want []subtitle.Item
	for i := 0; i < 10; i++ {
		it := subtitle.NewItem(fmt.Sprintf("line %d", i), time.Duration(i)*time.Second, float64(i)/10)
		want = append(want, it)
		m.AddSubtitle(it)
	}
	s, _ := m.Active()
	dur := 10 * time.Second
	path, err := m.FinalizeSession(ctx, FinalizeRequest{Title: "round trip", Language: "en", Duration: &dur})
	require.NoError(t, err)
	require.NotEmpty(t, path)

	file, err := f.store.Load(path)
	require.NoError(t, err)
	require.Len(t, file.Subtitles, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, file.Subtitles[i].ID)
		assert.Equal(t, want[i].Text, file.Subtitles[i].Text)
		assert.Equal(t, want[i].Confidence, file.Subtitles[i].Confidence)
		assert.Equal(t, want[i].IsConfirmed, file.Subtitles[i].IsConfirmed)
		assert.Equal(t, want[i].Timestamp, file.Subtitles[i].Timestamp)
	}

	_, err = os.Stat(s.LogPath)
	assert.True(t, os.IsNotExist(err))
	_, ok := m.Active()
	assert.False(t, ok)
}

func TestFinalizeEmptySessionDiscards(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	ctx := context.Background()
	_, err := m.StartSession(ctx)
	require.NoError(t, err)

	path, err := m.FinalizeSession(ctx, FinalizeRequest{Title: "empty"})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, tempLogs(t, f.logDir))

	list, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFinalizeWithoutSession(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	_, err := m.FinalizeSession(context.Background(), FinalizeRequest{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStartWhileActiveDiscardsPrevious(t *testing.T) {
	f := newFixture(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	m := f.manager(t, WithClock(clock))
	ctx := context.Background()

	first, err := m.StartSession(ctx)
	require.NoError(t, err)
	m.AddSubtitle(subtitle.NewItem("lost", 0, 1))
	second, err := m.StartSession(ctx)
	require.NoError(t, err)
	f.flush(t)

	a, _ := strconv.ParseInt(first, 10, 64)
	b, _ := strconv.ParseInt(second, 10, 64)
	assert.Equal(t, a+1, b, "ids from the same millisecond are bumped")

	logs := tempLogs(t, f.logDir)
	require.Len(t, logs, 1)
	s, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, second, s.ID)
	assert.Equal(t, s.LogPath, logs[0])
	assert.Empty(t, m.Items())
}

func TestAddSubtitleWithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	m.AddSubtitle(subtitle.NewItem("ignored", 0, 1))
	f.flush(t)
	assert.Empty(t, tempLogs(t, f.logDir))
	assert.Empty(t, m.Items())
}

func TestMirrorIsBounded(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, WithMirrorSize(3))
	ctx := context.Background()
	_, err := m.StartSession(ctx)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		m.AddSubtitle(subtitle.NewItem(strconv.Itoa(i), 0, 1))
	}
	items := m.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []string{"7", "8", "9"}, []string{items[0].Text, items[1].Text, items[2].Text})

	s, _ := m.Active()
	assert.Equal(t, 10, s.Count)

	path, err := m.FinalizeSession(ctx, FinalizeRequest{Title: "bounded"})
	require.NoError(t, err)
	file, err := f.store.Load(path)
	require.NoError(t, err)
	assert.Len(t, file.Subtitles, 10)
}

func TestDiscardSessionIdempotent(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	ctx := context.Background()
	_, err := m.StartSession(ctx)
	require.NoError(t, err)
	m.AddSubtitle(subtitle.NewItem("a", 0, 1))

	require.NoError(t, m.DiscardSession(ctx))
	require.NoError(t, m.DiscardSession(ctx))
	assert.Empty(t, tempLogs(t, f.logDir))
	list, _ := f.store.List()
	assert.Empty(t, list)
}

func TestCorruptLinesAreSkipped(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	ctx := context.Background()
	_, err := m.StartSession(ctx)
	require.NoError(t, err)
	m.AddSubtitle(subtitle.NewItem("one", 0, 1))
	s, _ := m.Active()
	f.q.Append(s.LogPath, []byte("{not json\n"))
	f.q.Append(s.LogPath, []byte(`{"text":"no id"}`+"\n"))
	m.AddSubtitle(subtitle.NewItem("two", time.Second, 1))
	f.q.Append(s.LogPath, []byte(`{"id":"trunc","text":"cut of`))

	path, err := m.FinalizeSession(ctx, FinalizeRequest{Title: "corrupt"})
	require.NoError(t, err)
	file, err := f.store.Load(path)
	require.NoError(t, err)
	require.Len(t, file.Subtitles, 2)
	assert.Equal(t, "one", file.Subtitles[0].Text)
	assert.Equal(t, "two", file.Subtitles[1].Text)
}

func TestCrashRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	crashed := f.manager(t)
	id, err := crashed.StartSession(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		crashed.AddSubtitle(subtitle.NewItem(strconv.Itoa(i), time.Duration(i)*time.Second, 1))
	}
	f.flush(t)

	// unrelated files in both directories must survive cleanup
	saved, err := f.store.Save(ctx, subtitle.SaveRequest{Title: "keep me", Items: []subtitle.Item{subtitle.NewItem("x", 0, 1)}})
	require.NoError(t, err)
	notes := filepath.Join(f.logDir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("hi"), 0644))

	restarted := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
	orphans, err := restarted.RecoveryInfo()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.NotNil(t, orphans[0].Header)
	assert.Equal(t, id, orphans[0].Header.SessionID)
	assert.Equal(t, LogVersion, orphans[0].Header.Version)
	assert.Equal(t, 3, orphans[0].Items)
	assert.Equal(t, 0, orphans[0].Corrupt)

	f.manager(t)
	assert.Empty(t, tempLogs(t, f.logDir))
	_, err = os.Stat(saved)
	assert.NoError(t, err)
	_, err = os.Stat(notes)
	assert.NoError(t, err)
}

func TestRecoverOrphan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	crashed := f.manager(t)
	_, err := crashed.StartSession(ctx)
	require.NoError(t, err)
	crashed.AddSubtitle(subtitle.NewItem("saved later", 0, 0.7))
	f.flush(t)

	m := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
	orphans, err := m.RecoveryInfo()
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	path, err := m.Recover(ctx, orphans[0].Path, FinalizeRequest{Title: "recovered"})
	require.NoError(t, err)
	file, err := f.store.Load(path)
	require.NoError(t, err)
	require.Len(t, file.Subtitles, 1)
	assert.Equal(t, "saved later", file.Subtitles[0].Text)
	assert.Empty(t, tempLogs(t, f.logDir))
}

func TestDiscardOrphansSkipsActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		crashed := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
		_, err := crashed.StartSession(ctx)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	f.flush(t)

	m := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
	_, err := m.StartSession(ctx)
	require.NoError(t, err)
	f.flush(t)
	require.Len(t, tempLogs(t, f.logDir), 3)

	require.NoError(t, m.DiscardOrphans(ctx))
	logs := tempLogs(t, f.logDir)
	require.Len(t, logs, 1)
	s, _ := m.Active()
	assert.Equal(t, s.LogPath, logs[0])

	assert.ErrorIs(t, m.DiscardOrphan(ctx, s.LogPath), ErrNotOrphan)
	assert.ErrorIs(t, m.DiscardOrphan(ctx, filepath.Join(f.logDir, "x.subs")), ErrNotOrphan)
}

// crashWithAudio leaves an orphaned log with the given items and an audio
// archive beside it, and returns the archive path.
func (f *fixture) crashWithAudio(t *testing.T, texts ...string) string {
	t.Helper()
	crashed := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
	id, err := crashed.StartSession(context.Background())
	require.NoError(t, err)
	for i, text := range texts {
		crashed.AddSubtitle(subtitle.NewItem(text, time.Duration(i)*time.Second, 0.8))
	}
	f.flush(t)
	audio := crashed.ArchivePath(id)
	require.NoError(t, os.WriteFile(audio, []byte("fLaC"), 0644))
	return audio
}

func TestRecoverMovesOrphanAudio(t *testing.T) {
	f := newFixture(t)
	audio := f.crashWithAudio(t, "with sound")

	m := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
	orphans, err := m.RecoveryInfo()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, audio, orphans[0].Audio)

	path, err := m.Recover(context.Background(), orphans[0].Path, FinalizeRequest{Title: "with sound"})
	require.NoError(t, err)
	file, err := f.store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, encoder.AudioPath(path), file.Metadata.AudioFilePath)
	data, err := os.ReadFile(file.Metadata.AudioFilePath)
	require.NoError(t, err)
	assert.Equal(t, "fLaC", string(data))

	left, err := os.ReadDir(f.logDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRecoverEmptyOrphanRemovesAudio(t *testing.T) {
	f := newFixture(t)
	audio := f.crashWithAudio(t)

	m := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
	orphans, err := m.RecoveryInfo()
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	path, err := m.Recover(context.Background(), orphans[0].Path, FinalizeRequest{Title: "silent"})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.NoFileExists(t, audio)
	assert.NoFileExists(t, encoder.AudioPath(f.store.PathFor("silent")))
}

func TestFailedRecoverKeepsAudioWithLog(t *testing.T) {
	f := newFixture(t)
	audio := f.crashWithAudio(t, "try again")

	// a directory where the temp file goes makes the save fail
	require.NoError(t, os.MkdirAll(f.store.PathFor("blocked")+".tmp", 0755))

	m := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
	orphans, err := m.RecoveryInfo()
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	_, err = m.Recover(context.Background(), orphans[0].Path, FinalizeRequest{Title: "blocked"})
	require.Error(t, err)
	assert.FileExists(t, orphans[0].Path)
	assert.FileExists(t, audio)
	assert.NoFileExists(t, encoder.AudioPath(f.store.PathFor("blocked")))
}

func TestDiscardRemovesOrphanAudio(t *testing.T) {
	f := newFixture(t)
	audio := f.crashWithAudio(t, "gone")

	m := f.manager(t, WithRecoveryPolicy(RecoveryKeep))
	orphans, err := m.RecoveryInfo()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.NoError(t, m.DiscardOrphan(context.Background(), orphans[0].Path))
	assert.NoFileExists(t, orphans[0].Path)
	assert.NoFileExists(t, audio)
}

func TestOpenDiscardRemovesSessionAudio(t *testing.T) {
	f := newFixture(t)
	audio := f.crashWithAudio(t, "crashed")
	stray := filepath.Join(f.logDir, "session_1.flac")
	require.NoError(t, os.WriteFile(stray, []byte("fLaC"), 0644))
	other := filepath.Join(f.logDir, "keep.flac")
	require.NoError(t, os.WriteFile(other, []byte("fLaC"), 0644))

	f.manager(t)
	assert.Empty(t, tempLogs(t, f.logDir))
	assert.NoFileExists(t, audio)
	assert.NoFileExists(t, stray)
	assert.FileExists(t, other)
}
