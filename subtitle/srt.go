package subtitle

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultCueLength is how long the last cue of a file stays on screen.
const DefaultCueLength = 3 * time.Second

// WriteSRT renders items as SubRip cues. Each cue ends where the next one
// starts.
func WriteSRT(w io.Writer, items []Item) error {
	for i, it := range items {
		end := it.Timestamp + DefaultCueLength
		if i+1 < len(items) && items[i+1].Timestamp > it.Timestamp {
			end = items[i+1].Timestamp
		}
		text := strings.TrimSpace(it.Text)
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(it.Timestamp), srtTime(end), text); err != nil {
			return err
		}
	}
	return nil
}

func srtTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
