package display

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeesubKim/live-trans-sub000/fileq"
	"github.com/JeesubKim/live-trans-sub000/pipeline"
	"github.com/JeesubKim/live-trans-sub000/session"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

type fakeLog struct {
	mu        sync.Mutex
	started   int
	items     []subtitle.Item
	finalized []session.FinalizeRequest
	discarded int
	startErr  error
}

func (f *fakeLog) StartSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started++
	return "s1", nil
}

func (f *fakeLog) AddSubtitle(it subtitle.Item) {
	f.mu.Lock()
	f.items = append(f.items, it)
	f.mu.Unlock()
}

func (f *fakeLog) FinalizeSession(_ context.Context, req session.FinalizeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, req)
	if len(f.items) == 0 {
		return "", nil
	}
	return "/subs/" + req.Title + ".subs", nil
}

func (f *fakeLog) DiscardSession(context.Context) error {
	f.mu.Lock()
	f.discarded++
	f.mu.Unlock()
	return nil
}

func (f *fakeLog) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, it := range f.items {
		out = append(out, it.Text)
	}
	return out
}

func newManager(t *testing.T, temp SessionLog, opts ...Option) *Manager {
	t.Helper()
	m := New(temp, opts...)
	t.Cleanup(m.Close)
	return m
}

func flush(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Flush(ctx))
}

func realtime(m *Manager) string {
	v, _ := m.Realtime().Latest()
	return v
}

func TestConfirmBuildsItemWithSessionOffset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	temp := &fakeLog{}
	m := newManager(t, temp, WithClock(clock))

	_, err := m.StartSession(context.Background())
	require.NoError(t, err)
	clock.Advance(5200 * time.Millisecond)
	m.ConfirmRealtimeText("hello there", 0.92)
	flush(t, m)

	cur, ok := m.Current().Latest()
	require.True(t, ok)
	require.NotNil(t, cur)
	assert.Equal(t, "hello there", cur.Text)
	assert.Equal(t, 5200*time.Millisecond, cur.Timestamp)
	assert.Equal(t, 0.92, cur.Confidence)
	assert.True(t, cur.IsConfirmed)
	assert.Equal(t, []string{"hello there"}, temp.texts())
}

// stallingLog blocks the first AddSubtitle until release is closed.
type stallingLog struct {
	fakeLog
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallingLog) AddSubtitle(it subtitle.Item) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	s.fakeLog.AddSubtitle(it)
}

func TestConfirmTimestampIsTakenWhenCalled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	temp := &stallingLog{entered: make(chan struct{}), release: make(chan struct{})}
	m := newManager(t, temp, WithClock(clock))
	_, err := m.StartSession(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Second)
	m.ConfirmRealtimeText("first", 0.9)
	select {
	case <-temp.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the session log")
	}

	// the worker is busy with the first caption
	clock.Advance(2 * time.Second)
	m.ConfirmRealtimeText("second", 0.9)
	clock.Advance(10 * time.Second)
	close(temp.release)
	flush(t, m)

	temp.mu.Lock()
	defer temp.mu.Unlock()
	require.Len(t, temp.items, 2)
	assert.Equal(t, time.Second, temp.items[0].Timestamp)
	assert.Equal(t, 3*time.Second, temp.items[1].Timestamp)
}

func TestConfirmEmptyUsesLatestPartial(t *testing.T) {
	temp := &fakeLog{}
	m := newManager(t, temp)
	_, err := m.StartSession(context.Background())
	require.NoError(t, err)

	m.UpdateRealtimeText("partial words")
	m.ConfirmRealtimeText("", 0.5)
	m.ConfirmRealtimeText("   ", 0.5)
	flush(t, m)

	assert.Equal(t, []string{"partial words"}, temp.texts())
}

func TestBlankConfirmIgnored(t *testing.T) {
	temp := &fakeLog{}
	m := newManager(t, temp)
	_, err := m.StartSession(context.Background())
	require.NoError(t, err)

	m.ConfirmRealtimeText("", 1)
	flush(t, m)
	assert.Empty(t, temp.texts())
	cur, _ := m.Current().Latest()
	assert.Nil(t, cur)
}

func TestKeepVisibleUntilNewUtterance(t *testing.T) {
	m := newManager(t, &fakeLog{})

	m.ConfirmRealtimeText("Good morning", 1)
	flush(t, m)
	assert.Equal(t, "Good morning", realtime(m))

	// an empty partial keeps the confirmed text on screen
	m.UpdateRealtimeText("")
	flush(t, m)
	assert.Equal(t, "Good morning", realtime(m))

	// a continuation keeps it too, but shows the partial
	m.UpdateRealtimeText("good morning every")
	m.UpdateRealtimeText("")
	flush(t, m)
	assert.Equal(t, "Good morning", realtime(m))

	// unrelated text starts a new utterance
	m.UpdateRealtimeText("How are")
	m.UpdateRealtimeText("")
	flush(t, m)
	assert.Equal(t, "", realtime(m))
}

func TestHistoryIsBoundedAndExcludesCurrent(t *testing.T) {
	temp := &fakeLog{}
	m := newManager(t, temp, WithHistorySize(3))
	_, err := m.StartSession(context.Background())
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		m.ConfirmRealtimeText(s, 1)
	}
	flush(t, m)

	hist, ok := m.History().Latest()
	require.True(t, ok)
	require.Len(t, hist, 3)
	assert.Equal(t, []string{"c", "d", "e"}, []string{hist[0].Text, hist[1].Text, hist[2].Text})
	cur, _ := m.Current().Latest()
	assert.Equal(t, "f", cur.Text)

	// the durable log is never trimmed
	assert.Len(t, temp.texts(), 6)
}

func TestItemsOutsideSessionAreNotLogged(t *testing.T) {
	temp := &fakeLog{}
	m := newManager(t, temp)
	m.ConfirmRealtimeText("before", 1)
	flush(t, m)
	assert.Empty(t, temp.texts())

	cur, _ := m.Current().Latest()
	require.NotNil(t, cur)
	assert.Equal(t, "before", cur.Text)
}

func TestEndSessionWithoutSaveDiscards(t *testing.T) {
	temp := &fakeLog{}
	m := newManager(t, temp)
	ctx := context.Background()
	_, err := m.StartSession(ctx)
	require.NoError(t, err)
	m.ConfirmRealtimeText("will be dropped", 1)

	path, err := m.EndSession(ctx, EndRequest{Save: false, Title: "x"})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, 1, temp.discarded)
	assert.Empty(t, temp.finalized)

	m.ConfirmRealtimeText("after end", 1)
	flush(t, m)
	assert.Equal(t, []string{"will be dropped"}, temp.texts())
}

func TestEndSessionDrainsPendingWork(t *testing.T) {
	temp := &fakeLog{}
	m := newManager(t, temp)
	ctx := context.Background()
	_, err := m.StartSession(ctx)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		m.ConfirmRealtimeText("line", 1)
	}
	path, err := m.EndSession(ctx, EndRequest{Save: true, Title: "talk", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "/subs/talk.subs", path)
	assert.Len(t, temp.texts(), 100)
	require.Len(t, temp.finalized, 1)
	assert.Equal(t, "en", temp.finalized[0].Language)
}

func TestStartSessionError(t *testing.T) {
	boom := errors.New("no disk")
	m := newManager(t, &fakeLog{startErr: boom})
	_, err := m.StartSession(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestConsumeTextRoutesPartialAndFinal(t *testing.T) {
	temp := &fakeLog{}
	m := newManager(t, temp)
	_, err := m.StartSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.ConsumeText(pipeline.TextData{Text: "hel"}))
	flush(t, m)
	assert.Equal(t, "hel", realtime(m))

	require.NoError(t, m.ConsumeText(pipeline.TextData{Text: "hello", Final: true, Confidence: 0.8}))
	flush(t, m)
	assert.Equal(t, []string{"hello"}, temp.texts())
}

func TestCallsAfterCloseAreDropped(t *testing.T) {
	temp := &fakeLog{}
	m := New(temp)
	m.Close()
	m.Close()

	assert.NotPanics(t, func() {
		m.UpdateRealtimeText("x")
		m.ConfirmRealtimeText("y", 1)
	})
	_, err := m.StartSession(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, temp.texts())
}

type panickyLog struct{ fakeLog }

func (p *panickyLog) AddSubtitle(subtitle.Item) { panic("disk on fire") }

func TestPanicsInDeferredWorkAreContained(t *testing.T) {
	m := newManager(t, &panickyLog{})
	_, err := m.StartSession(context.Background())
	require.NoError(t, err)

	m.ConfirmRealtimeText("first", 1)
	m.ConfirmRealtimeText("second", 1)
	flush(t, m)

	cur, _ := m.Current().Latest()
	require.NotNil(t, cur)
	assert.Equal(t, "second", cur.Text)
}

func TestWithSessionManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	q := fileq.New(fileq.WithSync(false))
	defer q.Close(ctx)
	store := subtitle.NewStore(filepath.Join(root, "subs"), q)
	temp := session.NewManager(filepath.Join(root, "logs"), q, store)
	require.NoError(t, temp.Open(ctx))

	m := newManager(t, temp)
	_, err := m.StartSession(ctx)
	require.NoError(t, err)
	m.UpdateRealtimeText("one")
	m.ConfirmRealtimeText("", 0.9)
	m.ConfirmRealtimeText("two", 0.8)

	path, err := m.EndSession(ctx, EndRequest{Save: true, Title: "integration"})
	require.NoError(t, err)
	f, err := store.Load(path)
	require.NoError(t, err)
	require.Len(t, f.Subtitles, 2)
	assert.Equal(t, "one", f.Subtitles[0].Text)
	assert.Equal(t, "two", f.Subtitles[1].Text)
}
