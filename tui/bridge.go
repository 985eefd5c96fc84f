package tui

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JeesubKim/live-trans-sub000/notify"
	"github.com/JeesubKim/live-trans-sub000/recorder"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

// Sources are the topics the viewer follows. Nil topics are skipped.
type Sources struct {
	States    *notify.Topic[recorder.StateChange]
	Durations *notify.Topic[time.Duration]
	Errors    *notify.Topic[error]
	Bars      *notify.Topic[[]float64]
	History   *notify.Topic[[]subtitle.Item]
	Current   *notify.Topic[*subtitle.Item]
	Realtime  *notify.Topic[string]
}

// Pump forwards every topic into send until ctx ends or all topics close.
func Pump(ctx context.Context, src Sources, send func(tea.Msg)) {
	var wg sync.WaitGroup
	forward(ctx, &wg, src.States, send, func(c recorder.StateChange) tea.Msg { return StateMsg{State: c.To} })
	forward(ctx, &wg, src.Durations, send, func(d time.Duration) tea.Msg { return DurationMsg{Elapsed: d} })
	forward(ctx, &wg, src.Errors, send, func(err error) tea.Msg { return ErrorMsg{Err: err} })
	forward(ctx, &wg, src.Bars, send, func(b []float64) tea.Msg { return BarsMsg{Bars: b} })
	forward(ctx, &wg, src.History, send, func(items []subtitle.Item) tea.Msg { return HistoryMsg{Items: items} })
	forward(ctx, &wg, src.Current, send, func(it *subtitle.Item) tea.Msg { return CurrentMsg{Item: it} })
	forward(ctx, &wg, src.Realtime, send, func(s string) tea.Msg { return RealtimeMsg{Text: s} })
	wg.Wait()
}

func forward[T any](ctx context.Context, wg *sync.WaitGroup, topic *notify.Topic[T], send func(tea.Msg), wrap func(T) tea.Msg) {
	if topic == nil {
		return
	}
	ch, cancel := topic.Subscribe(0)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				send(wrap(v))
			}
		}
	}()
}
