// Package subtitle defines subtitle items and the permanent subtitle file
// format, and stores finalized sessions on disk.
package subtitle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// epoch anchors session-relative timestamps so they can be written as
// ISO-8601 strings: 5.2s into a session is "1970-01-01T00:00:05.2Z".
var epoch = time.Unix(0, 0).UTC()

// Item is one confirmed caption. Timestamp is the elapsed time since the
// recording started, not wall-clock time.
type Item struct {
	ID          string
	Text        string
	Timestamp   time.Duration
	Confidence  float64
	IsComplete  bool
	IsConfirmed bool
}

// NewItem builds a confirmed, complete item with a fresh id.
func NewItem(text string, at time.Duration, confidence float64) Item {
	return Item{
		ID:          uuid.NewString(),
		Text:        text,
		Timestamp:   at,
		Confidence:  clamp01(confidence),
		IsComplete:  true,
		IsConfirmed: true,
	}
}

type itemJSON struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Timestamp   string  `json:"timestamp"`
	Confidence  float64 `json:"confidence"`
	IsComplete  bool    `json:"isComplete"`
	IsConfirmed bool    `json:"isConfirmed"`
}

func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemJSON{
		ID:          it.ID,
		Text:        it.Text,
		Timestamp:   FormatOffset(it.Timestamp),
		Confidence:  clamp01(it.Confidence),
		IsComplete:  it.IsComplete,
		IsConfirmed: it.IsConfirmed,
	})
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("subtitle: item without id")
	}
	ts, err := ParseOffset(raw.Timestamp)
	if err != nil {
		return err
	}
	*it = Item{
		ID:          raw.ID,
		Text:        raw.Text,
		Timestamp:   ts,
		Confidence:  clamp01(raw.Confidence),
		IsComplete:  raw.IsComplete,
		IsConfirmed: raw.IsConfirmed,
	}
	return nil
}

// FormatOffset renders a session offset as an ISO-8601 instant after the
// Unix epoch.
func FormatOffset(d time.Duration) string {
	return epoch.Add(d).Format(time.RFC3339Nano)
}

func ParseOffset(s string) (time.Duration, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("subtitle: bad timestamp %q: %w", s, err)
	}
	return t.Sub(epoch), nil
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
