package subtitle

import (
	"time"
)

const (
	FormatVersion = "1.0"
	Ext           = ".subs"
)

type Metadata struct {
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	Language      string    `json:"language"`
	Model         string    `json:"model"`
	Created       time.Time `json:"created"`
	Duration      *float64  `json:"duration,omitempty"`
	AudioFilePath string    `json:"audioFilePath,omitempty"`
}

// DurationValue converts the stored seconds back to a time.Duration.
func (m Metadata) DurationValue() (time.Duration, bool) {
	if m.Duration == nil {
		return 0, false
	}
	return time.Duration(*m.Duration * float64(time.Second)), true
}

// File is the permanent form of a finalized session.
type File struct {
	Version   string   `json:"version"`
	Metadata  Metadata `json:"metadata"`
	Subtitles []Item   `json:"subtitles"`
}

func secondsPtr(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}
