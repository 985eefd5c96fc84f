package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/pipeline"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	deepgramModel     = "nova-3"
	deepgramWriteWait = 2 * time.Second
)

type deepgramResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Deepgram streams PCM to Deepgram's live endpoint. Each Listen covers one
// utterance: partials are reported as they arrive, and once Deepgram marks
// the end of speech the final text is reported and the stream is closed.
// Audio arrives through ConsumeRawAudio, so the engine is registered with
// the recorder like any other consumer.
type Deepgram struct {
	apiKey   string
	endpoint string

	mu        sync.Mutex
	cb        Callbacks
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	listening bool
}

type DeepgramOption func(*Deepgram)

func WithEndpoint(u string) DeepgramOption {
	return func(d *Deepgram) { d.endpoint = u }
}

func NewDeepgram(apiKey string, opts ...DeepgramOption) *Deepgram {
	d := &Deepgram{apiKey: apiKey, endpoint: deepgramEndpoint}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deepgram) IsInitialized() bool { return d.apiKey != "" }

func (d *Deepgram) IsListening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// HasPermission reports whether an API key is configured. The key itself is
// only validated when a stream is opened.
func (d *Deepgram) HasPermission(context.Context) (bool, error) {
	return d.apiKey != "", nil
}

func (d *Deepgram) SetCallbacks(cb Callbacks) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *Deepgram) streamURL(opts ListenOptions) (string, error) {
	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	model := opts.Model
	if model == "" {
		model = deepgramModel
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	if opts.SampleRate > 0 {
		q.Set("sample_rate", fmt.Sprintf("%d", opts.SampleRate))
	}
	if opts.Channels > 0 {
		q.Set("channels", fmt.Sprintf("%d", opts.Channels))
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func (d *Deepgram) Listen(ctx context.Context, opts ListenOptions) error {
	d.mu.Lock()
	if d.listening {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	u, err := d.streamURL(opts)
	if err != nil {
		return &Error{Code: CodeServer, Message: "bad endpoint", Err: err}
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	streamCtx, cancel := context.WithCancel(context.Background())
	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		if resp != nil {
			return fromHTTPStatus(resp.StatusCode, err)
		}
		return Classify(err)
	}

	done := make(chan struct{})
	d.mu.Lock()
	d.conn = conn
	d.cancel = cancel
	d.done = done
	d.listening = true
	cb := d.cb
	d.mu.Unlock()

	go d.receive(streamCtx, conn, done)
	cb.status(true)
	return nil
}

func (d *Deepgram) receive(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	var committed []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			d.finish(conn, d.readError(ctx, err))
			return
		}
		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warnf("deepgram: bad message: %v", err)
			continue
		}
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}

		transcript, confidence := "", 0.0
		if len(resp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
			confidence = resp.Channel.Alternatives[0].Confidence
		}
		cb := d.callbacks()
		if resp.IsFinal && transcript != "" {
			committed = append(committed, transcript)
		}
		if resp.SpeechFinal || (resp.IsFinal && resp.FromFinalize) {
			if text := strings.Join(committed, " "); text != "" {
				cb.final(text, confidence)
			} else {
				cb.fail(&Error{Code: CodeNoMatch})
			}
			d.finish(conn, nil)
			return
		}
		if transcript == "" {
			continue
		}
		text := strings.Join(committed, " ")
		if !resp.IsFinal {
			text = strings.TrimSpace(text + " " + transcript)
		}
		cb.partial(text)
	}
}

func (d *Deepgram) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	case websocket.StatusPolicyViolation:
		return &Error{Code: CodeInsufficientPermissions, Message: "closed by server", Err: err}
	case websocket.StatusTryAgainLater:
		return &Error{Code: CodeBusy, Message: "closed by server", Err: err}
	case -1:
		return &Error{Code: CodeNetworkTimeout, Message: "connection lost", Err: err}
	}
	return &Error{Code: CodeServer, Message: "closed by server", Err: err}
}

// finish tears the stream down once, whether it ended by itself or was
// stopped.
func (d *Deepgram) finish(conn *websocket.Conn, err error) {
	d.mu.Lock()
	if d.conn != conn {
		d.mu.Unlock()
		return
	}
	d.conn = nil
	d.listening = false
	cancel := d.cancel
	d.cancel = nil
	cb := d.cb
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	conn.Close(websocket.StatusNormalClosure, "")
	if err != nil {
		cb.fail(err)
	}
	cb.status(false)
}

func (d *Deepgram) Stop(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	done := d.done
	d.mu.Unlock()
	if conn == nil {
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, deepgramWriteWait)
	err := conn.Write(writeCtx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
	cancel()
	if err != nil {
		log.Debugf("deepgram: close stream: %v", err)
	}
	d.finish(conn, nil)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeRawAudio forwards PCM while a stream is open and drops it
// otherwise.
func (d *Deepgram) ConsumeRawAudio(a pipeline.RawAudioData) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil || len(a.PCM) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), deepgramWriteWait)
	defer cancel()
	err := conn.Write(ctx, websocket.MessageBinary, a.PCM)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

func (d *Deepgram) callbacks() Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb
}
