// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface and also
// mints short-lived browser keys through the Deepgram management API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"

	"github.com/MrWong99/blink/internal/resilience"
	"github.com/MrWong99/blink/pkg/provider/stt"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
	defaultLanguage  = "en"

	// keytermModel is the only model family that accepts the keyterm
	// parameter on live streams.
	keytermModel = "nova-3"

	segmentBuffer = 64
	audioBuffer   = 256
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the model used when a StreamConfig does not name one.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code used when a StreamConfig does
// not name one.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithListenURL overrides the streaming endpoint. Tests point this at an
// httptest server.
func WithListenURL(u string) Option {
	return func(p *Provider) {
		p.listenURL = u
	}
}

// WithCircuitBreaker guards StartStream dials with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Provider) {
		p.breaker = cb
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey    string
	model     string
	language  string
	listenURL string
	breaker   *resilience.CircuitBreaker
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		language:  defaultLanguage,
		listenURL: defaultListenURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	var conn *websocket.Conn
	dial := func() error {
		c, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
			HTTPHeader: headers,
		})
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if p.breaker != nil {
		err = p.breaker.Execute(dial)
	} else {
		err = dial()
	}
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The session outlives the dial context; it ends on Close or when
	// Deepgram hangs up.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		conn:     conn,
		segments: make(chan stt.Transcript, segmentBuffer),
		audio:    make(chan []byte, audioBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	sess.wg.Add(2)
	go sess.readLoop(sessCtx)
	go sess.writeLoop(sessCtx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.listenURL)
	if err != nil {
		return "", err
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("interim_results", "true")

	flags := []struct {
		name string
		on   bool
	}{
		{"smart_format", cfg.SmartFormat},
		{"punctuate", cfg.Punctuate},
		{"utterances", cfg.Utterances || cfg.UtteranceSplitMS > 0},
		{"profanity_filter", cfg.ProfanityFilter},
	}
	for _, f := range flags {
		if f.on {
			q.Set(f.name, "true")
		}
	}
	if cfg.UtteranceSplitMS > 0 {
		q.Set("utt_split", strconv.Itoa(cfg.UtteranceSplitMS))
	}

	if len(cfg.Keyterms) > 0 && strings.HasPrefix(model, keytermModel) {
		q.Set("keyterm", strings.Join(cfg.Keyterms, ","))
	}
	for _, r := range cfg.Replacements {
		q.Add("replace", r)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	segments chan stt.Transcript
	audio    chan []byte

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// SendAudio queues an audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Segments returns the ordered stream of partial and final transcripts.
func (s *session) Segments() <-chan stt.Transcript { return s.segments }

// Close asks Deepgram to flush and finish the stream, then tears the
// connection down.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to
// Deepgram. On Close it drains queued audio and sends CloseStream.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.cancel()
				return
			}
		case <-ctx.Done():
			return
		case <-s.done:
		drain:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					break drain
				}
			}
			closeMsg, _ := json.Marshal(struct {
				Type string `json:"type"`
			}{Type: string(api.TypeCloseStreamResponse)})
			_ = s.conn.Write(ctx, websocket.MessageText, closeMsg)
			// Give Deepgram a moment to deliver the trailing finals before
			// the read side is cut off.
			timer := time.NewTimer(2 * time.Second)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
				s.cancel()
			}
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and forwards transcripts on
// the single segment channel, preserving arrival order.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.segments)
	defer s.cancel()

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		select {
		case s.segments <- t:
		case <-ctx.Done():
			return
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a
// Transcript. Returns (Transcript, true) for Results messages, or
// (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return stt.Transcript{}, false
	}
	if api.TypeResponse(head.Type) != api.TypeMessageResponse {
		return stt.Transcript{}, false
	}

	var resp api.MessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}

	return stt.Transcript{
		Text:        alt.Transcript,
		IsFinal:     resp.IsFinal,
		SpeechFinal: resp.SpeechFinal,
		Confidence:  alt.Confidence,
		Words:       words,
		Start:       seconds(resp.Start),
		Duration:    seconds(resp.Duration),
	}, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

var _ stt.Provider = (*Provider)(nil)

// ErrNotConfigured is returned when no Deepgram API key (or project id for
// key minting) is available.
var ErrNotConfigured = errors.New("deepgram: not configured")
