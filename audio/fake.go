package audio

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const fakeChunkFrames = 1600 // 100ms at 16kHz

// FakeContext replays a fixed PCM buffer in real time (by its clock), then
// feeds silence. It backs the --fake record mode and the tests.
type FakeContext struct {
	pcm   []byte
	clock clockwork.Clock
}

type FakeOption func(*FakeContext)

func WithFakeClock(c clockwork.Clock) FakeOption {
	return func(f *FakeContext) { f.clock = c }
}

func NewFakeContext(pcm []byte, opts ...FakeOption) *FakeContext {
	f := &FakeContext{pcm: pcm, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LoadWAV reads a 16kHz mono 16-bit WAV file and returns its PCM payload.
func LoadWAV(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < WAVHeaderSize || string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%s: not a WAV file", path)
	}
	return data[WAVHeaderSize:], nil
}

// Tone synthesizes a sine wave of the given peak amplitude (0-1).
func Tone(freq, amplitude float64, d time.Duration) []byte {
	n := int(d.Seconds() * SampleRate)
	samples := make([]int16, n)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
		samples[i] = int16(v * 32767)
	}
	return encodeSamples(samples)
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake input"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{pcm: f.pcm, clock: f.clock, audioDone: make(chan struct{})}, nil
}

type FakeCapture struct {
	pcm       []byte
	clock     clockwork.Clock
	audioDone chan struct{}
	doneOnce  sync.Once

	mu   sync.Mutex
	cb   DataCallback
	pos  int
	stop chan struct{}
	fed  chan struct{}
}

// AudioDone is closed once the whole buffer has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

// Start resumes feeding from where the last Stop left off.
func (f *FakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return nil
	}
	f.stop = make(chan struct{})
	f.fed = make(chan struct{})
	go f.feed(f.stop, f.fed)
	return nil
}

func (f *FakeCapture) feed(stop <-chan struct{}, fed chan<- struct{}) {
	defer close(fed)
	interval := time.Duration(fakeChunkFrames) * time.Second / SampleRate
	t := f.clock.NewTicker(interval)
	defer t.Stop()
	chunkBytes := fakeChunkFrames * BytesPerSample
	silence := make([]byte, chunkBytes)
	for {
		select {
		case <-stop:
			return
		case <-t.Chan():
		}
		f.mu.Lock()
		cb := f.cb
		chunk := silence
		if f.pos < len(f.pcm) {
			end := min(f.pos+chunkBytes, len(f.pcm))
			chunk = append([]byte(nil), f.pcm[f.pos:end]...)
			f.pos = end
		}
		finished := f.pos >= len(f.pcm)
		f.mu.Unlock()

		if cb != nil {
			cb(chunk, uint32(len(chunk)/BytesPerSample))
		}
		if finished {
			f.doneOnce.Do(func() { close(f.audioDone) })
		}
	}
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stop, fed := f.stop, f.fed
	f.stop, f.fed = nil, nil
	f.mu.Unlock()
	if stop != nil {
		close(stop)
		<-fed
	}
}

func (f *FakeCapture) Close() { f.Stop() }
