// Package pipeline carries audio-tick signals, recognized text and raw PCM
// from the recorder to registered consumers, and provides the processing
// stages that shape the signal for display.
package pipeline

import (
	"time"
)

type Kind int

const (
	KindSignal Kind = iota
	KindText
	KindRawAudio
)

func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindText:
		return "text"
	case KindRawAudio:
		return "raw_audio"
	}
	return "unknown"
}

// MetaOriginal records the amplitude as it left the capture engine.
const MetaOriginal = "originalAmplitude"

// SignalData is one amplitude sample. Stages never modify a SignalData;
// they derive a new one with WithAmplitude.
type SignalData struct {
	Amplitude float64
	Timestamp time.Time
	Metadata  map[string]any
}

func NewSignal(amplitude float64, ts time.Time) SignalData {
	return SignalData{Amplitude: amplitude, Timestamp: ts}
}

// WithAmplitude returns a copy carrying a new amplitude and the provenance
// of the stage that produced it.
func (s SignalData) WithAmplitude(stage string, amplitude float64) SignalData {
	md := make(map[string]any, len(s.Metadata)+3)
	for k, v := range s.Metadata {
		md[k] = v
	}
	if _, ok := md[MetaOriginal]; !ok {
		md[MetaOriginal] = s.Amplitude
	}
	md["stage"] = stage
	md[stage+".input"] = s.Amplitude
	return SignalData{Amplitude: amplitude, Timestamp: s.Timestamp, Metadata: md}
}

func (s SignalData) Meta(key string) (any, bool) {
	v, ok := s.Metadata[key]
	return v, ok
}

type TextData struct {
	Text       string
	Final      bool
	Confidence float64
	Timestamp  time.Time
}

// RawAudioData is a block of 16-bit little-endian mono PCM.
type RawAudioData struct {
	PCM       []byte
	Frames    uint32
	Timestamp time.Time
}
