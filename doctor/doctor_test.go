package doctor

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeesubKim/live-trans-sub000/audio"
	"github.com/JeesubKim/live-trans-sub000/config"
	"github.com/JeesubKim/live-trans-sub000/hotkey"
	"github.com/JeesubKim/live-trans-sub000/recognizer"
)

func testEnv(t *testing.T) Env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SubtitlesDir = filepath.Join(dir, "subtitles")
	cfg.SessionsDir = filepath.Join(dir, "sessions")
	return Env{
		Config: cfg,
		Audio:  audio.NewFakeContext(audio.Tone(440, 0.5, time.Second)),
		Engine: recognizer.NewFake(),
		Hotkey: hotkey.NewFake(),
		Listen: 300 * time.Millisecond,
	}
}

func TestAllChecksPass(t *testing.T) {
	env := testEnv(t)
	var out bytes.Buffer
	ok := Run(context.Background(), env, Checks(), &out)
	assert.True(t, ok, out.String())
	assert.Contains(t, out.String(), "[1/5] Configuration")
	assert.Contains(t, out.String(), "[5/5] Global hotkey")
	assert.Contains(t, out.String(), "All checks passed!")
	assert.DirExists(t, env.Config.SubtitlesDir)
	assert.NoFileExists(t, filepath.Join(env.Config.SubtitlesDir, ".livesub-doctor"))
}

func TestMissingRecognizerFails(t *testing.T) {
	env := testEnv(t)
	env.Engine = nil
	var out bytes.Buffer
	assert.False(t, Run(context.Background(), env, Checks(), &out))
	assert.Contains(t, out.String(), "FAIL: no API key")
	assert.Contains(t, out.String(), "Some checks failed")
}

func TestRecognizerStreamFailure(t *testing.T) {
	env := testEnv(t)
	fake := recognizer.NewFake()
	fake.FailListen(&recognizer.Error{Code: recognizer.CodeInsufficientPermissions})
	env.Engine = fake
	_, err := checkRecognizer(context.Background(), env, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient_permissions")
}

func TestMicrophoneCapturesLevel(t *testing.T) {
	env := testEnv(t)
	var out bytes.Buffer
	detail, err := checkMicrophone(context.Background(), env, &out)
	require.NoError(t, err)
	assert.Contains(t, detail, "captured")
	assert.NotContains(t, detail, "silent")
	assert.Contains(t, out.String(), "Recording")
}

func TestMicrophoneUnknownDevice(t *testing.T) {
	env := testEnv(t)
	env.Config.Device = "studio mic"
	_, err := checkMicrophone(context.Background(), env, &bytes.Buffer{})
	assert.ErrorIs(t, err, audio.ErrNoDevice)
}

type brokenHotkey struct{ hotkey.Hotkey }

func (brokenHotkey) Register() error { return errors.New("no input devices") }

func TestHotkeyChecks(t *testing.T) {
	env := testEnv(t)
	env.Hotkey = brokenHotkey{}
	_, err := checkHotkey(context.Background(), env, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no input devices")

	fk := hotkey.NewFake()
	env.Hotkey = fk
	env.WaitForKey = true
	fk.SimKeydown()
	fk.SimKeyup()
	detail, err := checkHotkey(context.Background(), env, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "hotkey detected", detail)

	env.KeyTimeout = 10 * time.Millisecond
	_, err = checkHotkey(context.Background(), env, &bytes.Buffer{})
	assert.ErrorContains(t, err, "timeout")
}
