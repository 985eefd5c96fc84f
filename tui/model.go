// Package tui is a Bubble Tea caption viewer over the recorder and display
// notification topics.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/JeesubKim/live-trans-sub000/hotkey"
	"github.com/JeesubKim/live-trans-sub000/recorder"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

type StateMsg struct{ State recorder.State }
type DurationMsg struct{ Elapsed time.Duration }
type BarsMsg struct{ Bars []float64 }
type HistoryMsg struct{ Items []subtitle.Item }
type CurrentMsg struct{ Item *subtitle.Item }
type RealtimeMsg struct{ Text string }
type ErrorMsg struct{ Err error }
type StatusLineMsg struct{ Text string }

type noticeMsg struct{ text string }

// Controls are the actions the viewer can trigger.
type Controls struct {
	TogglePause func() error
	// Copy defaults to the system clipboard.
	Copy func(text string) error
}

type Model struct {
	controls Controls

	state         recorder.State
	elapsed       time.Duration
	bars          []float64
	history       []subtitle.Item
	current       *subtitle.Item
	realtime      string
	lastErr       error
	statusLine    string
	notice        string
	width, height int
	quitting      bool
}

func New(c Controls) Model {
	if c.Copy == nil {
		c.Copy = clipboard.WriteAll
	}
	return Model{controls: c}
}

func NewProgram(c Controls) *tea.Program {
	return tea.NewProgram(New(c), tea.WithAltScreen())
}

func (m Model) Init() tea.Cmd { return nil }

// Quitting reports whether the user asked to end the recording.
func (m Model) Quitting() bool { return m.quitting }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tea.KeyMsg:
		return m.key(msg)

	case StateMsg:
		m.state = msg.State
	case DurationMsg:
		m.elapsed = msg.Elapsed
	case BarsMsg:
		m.bars = msg.Bars
	case HistoryMsg:
		m.history = msg.Items
	case CurrentMsg:
		m.current = msg.Item
	case RealtimeMsg:
		m.realtime = msg.Text
	case ErrorMsg:
		m.lastErr = msg.Err
	case StatusLineMsg:
		m.statusLine = msg.Text
	case noticeMsg:
		m.notice = msg.text
	}
	return m, nil
}

func (m Model) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "p", " ":
		toggle := m.controls.TogglePause
		if toggle == nil {
			return m, nil
		}
		return m, func() tea.Msg {
			if err := toggle(); err != nil {
				return ErrorMsg{Err: err}
			}
			return nil
		}
	case "c":
		text := m.captionText()
		if text == "" {
			return m, nil
		}
		copyFn := m.controls.Copy
		return m, func() tea.Msg {
			if err := copyFn(text); err != nil {
				return ErrorMsg{Err: fmt.Errorf("copy: %w", err)}
			}
			return noticeMsg{text: "[✓ copied]"}
		}
	}
	return m, nil
}

// captionText is the confirmed caption, falling back to the live text.
func (m Model) captionText() string {
	if m.current != nil {
		return m.current.Text
	}
	return m.realtime
}

var (
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldHelpStyle = helpStyle.Bold(true)
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pausedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	currentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	realtimeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Italic(true)
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	barStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
)

const barGlyphs = "▁▂▃▄▅▆▇█"

func renderBars(bars []float64) string {
	glyphs := []rune(barGlyphs)
	var b strings.Builder
	for _, v := range bars {
		i := int(v * float64(len(glyphs)))
		i = max(0, min(i, len(glyphs)-1))
		b.WriteRune(glyphs[i])
	}
	return b.String()
}

func (m Model) statusText() string {
	secs := m.elapsed.Seconds()
	switch m.state {
	case recorder.Recording:
		return recStyle.Render(fmt.Sprintf("● REC %.0fs", secs))
	case recorder.Paused:
		return pausedStyle.Render(fmt.Sprintf("❚❚ PAUSED %.0fs", secs))
	case recorder.Stopped:
		return dimStyle.Render(fmt.Sprintf("■ STOPPED %.0fs", secs))
	}
	return dimStyle.Render("○ STANDBY")
}

func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	wrap := max(width-2, 10)

	var lines []string
	lines = append(lines, m.statusText())
	if m.statusLine != "" {
		lines = append(lines, dimStyle.Render(m.statusLine))
	}
	lines = append(lines, barStyle.Render(renderBars(m.bars)), "")

	for _, it := range m.history {
		for _, l := range wrapText(it.Text, wrap) {
			lines = append(lines, dimStyle.Render(l))
		}
	}
	if m.current != nil {
		cur := wrapText(m.current.Text, wrap)
		for i, l := range cur {
			line := currentStyle.Render(l)
			if i == len(cur)-1 && m.notice != "" {
				line += " " + noticeStyle.Render(m.notice)
			}
			lines = append(lines, line)
		}
	}
	if m.realtime != "" && (m.current == nil || m.realtime != m.current.Text) {
		for _, l := range wrapText(m.realtime, wrap) {
			lines = append(lines, realtimeStyle.Render(l))
		}
	}
	if len(m.history) == 0 && m.current == nil && m.realtime == "" {
		lines = append(lines, dimStyle.Render("Waiting for speech..."))
	}

	if m.lastErr != nil {
		lines = append(lines, "", errStyle.Render("⚠ "+m.lastErr.Error()))
	}
	lines = append(lines, "",
		boldHelpStyle.Render("p")+helpStyle.Render(" pause/resume  ")+
			boldHelpStyle.Render("c")+helpStyle.Render(" copy  ")+
			boldHelpStyle.Render("q")+helpStyle.Render(" save and quit  ")+
			boldHelpStyle.Render(hotkey.Combo)+helpStyle.Render(" global pause"))

	if m.height > 3 && len(lines) > m.height {
		// keep the status block, drop the oldest captions
		head := lines[:3]
		tail := lines[len(lines)-(m.height-3):]
		lines = append(append([]string{}, head...), tail...)
	}
	return strings.Join(lines, "\n")
}

// wrapText breaks text at spaces so no line exceeds width runes.
func wrapText(text string, width int) []string {
	if text == "" {
		return nil
	}
	width = max(width, 1)
	var lines []string
	var cur []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		if len(cur) > 0 && len(cur)+1+len(w) > width {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
		for len(w) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = cur[:0]
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
