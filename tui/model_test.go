package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeesubKim/live-trans-sub000/notify"
	"github.com/JeesubKim/live-trans-sub000/recorder"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

func press(m tea.Model, key string) (tea.Model, tea.Cmd) {
	var msg tea.KeyMsg
	switch key {
	case "ctrl+c":
		msg = tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	return m.Update(msg)
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m, cmd := press(New(Controls{}), key)
		require.NotNil(t, cmd, key)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		assert.True(t, m.(Model).Quitting())
	}
}

func TestPauseKeyTogglesAndReportsErrors(t *testing.T) {
	calls := 0
	fail := false
	m := New(Controls{TogglePause: func() error {
		calls++
		if fail {
			return errors.New("cannot resume")
		}
		return nil
	}})

	_, cmd := press(m, "p")
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())
	assert.Equal(t, 1, calls)

	fail = true
	_, cmd = press(m, "p")
	msg := cmd()
	require.IsType(t, ErrorMsg{}, msg)

	next, _ := m.Update(msg)
	assert.Contains(t, next.View(), "cannot resume")
}

func TestCopyKey(t *testing.T) {
	var copied string
	m := tea.Model(New(Controls{Copy: func(s string) error { copied = s; return nil }}))

	_, cmd := press(m, "c")
	assert.Nil(t, cmd, "nothing to copy yet")

	m, _ = m.Update(RealtimeMsg{Text: "live text"})
	_, cmd = press(m, "c")
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, "live text", copied)

	item := subtitle.NewItem("confirmed", time.Second, 0.9)
	m, _ = m.Update(CurrentMsg{Item: &item})
	_, cmd = press(m, "c")
	m, _ = m.Update(cmd())
	assert.Equal(t, "confirmed", copied)
	assert.Contains(t, m.View(), "[✓ copied]")
}

func TestViewShowsCaptions(t *testing.T) {
	m := tea.Model(New(Controls{}))
	assert.Contains(t, m.View(), "STANDBY")
	assert.Contains(t, m.View(), "Waiting for speech")

	old := subtitle.NewItem("first line", 0, 1)
	cur := subtitle.NewItem("second line", time.Second, 1)
	for _, msg := range []tea.Msg{
		tea.WindowSizeMsg{Width: 60, Height: 40},
		StateMsg{State: recorder.Recording},
		DurationMsg{Elapsed: 12 * time.Second},
		BarsMsg{Bars: []float64{0, 0.5, 1}},
		HistoryMsg{Items: []subtitle.Item{old}},
		CurrentMsg{Item: &cur},
		RealtimeMsg{Text: "third"},
	} {
		m, _ = m.Update(msg)
	}
	v := m.View()
	assert.Contains(t, v, "REC 12s")
	assert.Contains(t, v, "▁▅█")
	assert.Contains(t, v, "first line")
	assert.Contains(t, v, "second line")
	assert.Contains(t, v, "third")
	assert.NotContains(t, v, "Waiting for speech")
	assert.Less(t, strings.Index(v, "first line"), strings.Index(v, "second line"))

	m, _ = m.Update(StateMsg{State: recorder.Paused})
	assert.Contains(t, m.View(), "PAUSED")
}

func TestViewTrimsToHeight(t *testing.T) {
	m := tea.Model(New(Controls{}))
	var items []subtitle.Item
	for i := 0; i < 30; i++ {
		items = append(items, subtitle.NewItem("line", 0, 1))
	}
	m, _ = m.Update(tea.WindowSizeMsg{Width: 40, Height: 10})
	m, _ = m.Update(HistoryMsg{Items: items})
	assert.Len(t, strings.Split(m.View(), "\n"), 10)
}

func TestWrapText(t *testing.T) {
	assert.Nil(t, wrapText("", 10))
	assert.Equal(t, []string{"hello", "world"}, wrapText("hello world", 7))
	assert.Equal(t, []string{"hello world"}, wrapText("hello world", 11))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, wrapText("abcdefghij", 4))
	assert.Equal(t, []string{"안녕하세요", "세계"}, wrapText("안녕하세요 세계", 6))
}

type collector struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (c *collector) send(m tea.Msg) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestPumpForwardsTopics(t *testing.T) {
	src := Sources{
		States:   notify.NewTopic[recorder.StateChange](),
		Realtime: notify.NewTopic[string](),
	}
	c := &collector{}
	done := make(chan struct{})
	go func() {
		Pump(context.Background(), src, c.send)
		close(done)
	}()

	src.Realtime.Publish("hi")
	src.States.Publish(recorder.StateChange{From: recorder.Ready, To: recorder.Recording})
	require.Eventually(t, func() bool { return c.count() == 2 }, 5*time.Second, 5*time.Millisecond)

	src.States.Close()
	src.Realtime.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not stop after topics closed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Contains(t, c.msgs, tea.Msg(RealtimeMsg{Text: "hi"}))
	assert.Contains(t, c.msgs, tea.Msg(StateMsg{State: recorder.Recording}))
}
