// Package dictation runs live dictation sessions.
//
// A [Session] owns one [transcript.Merger] and a visible text buffer. It
// consumes recogniser segments, user edits and control commands on a single
// goroutine ([Session.Run]) and reports what the user should see as a
// stream of [Event] values. While the user is typing, recogniser output keeps
// flowing into the merger but is not pushed into the visible buffer; once the
// [TypingGate] reports idle the buffer resyncs from the merger.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/blink/internal/events"
	"github.com/MrWong99/blink/internal/observe"
	"github.com/MrWong99/blink/internal/store"
	"github.com/MrWong99/blink/internal/transcript"
	"github.com/MrWong99/blink/internal/transcript/phonetic"
	"github.com/MrWong99/blink/pkg/provider/stt"
)

// ErrSessionDone is returned by commands sent after [Session.Run] returned.
var ErrSessionDone = errors.New("dictation: session done")

// ClosedMessage is reported when the recogniser stream ends while recording.
const ClosedMessage = "Connection closed. Check Settings → Transcription options."

// EventKind names the kind of an [Event].
type EventKind string

const (
	EventTranscript EventKind = "transcript"
	EventSaved      EventKind = "saved"
	EventCleared    EventKind = "cleared"
	EventError      EventKind = "error"
	EventClosed     EventKind = "closed"
)

// Update is the visible text split the way the dictation view renders it:
// every word but the last is committed, the last word is live.
type Update struct {
	Text      string
	Committed string
	Live      string
}

// newUpdate splits text into committed and live parts.
func newUpdate(text string) Update {
	words := strings.Fields(text)
	if len(words) == 0 {
		return Update{Text: text}
	}
	return Update{
		Text:      text,
		Committed: strings.Join(words[:len(words)-1], " "),
		Live:      words[len(words)-1],
	}
}

// Event is one notification for the client.
type Event struct {
	Kind      EventKind
	Update    Update
	Dictation *store.Dictation
	Message   string
}

// DictationSaver persists finished dictations.
type DictationSaver interface {
	CreateDictation(ctx context.Context, userID, text string, durationSec int) (store.Dictation, error)
}

// Publisher receives final segments and saved dictations.
// [events.Publisher] implements it.
type Publisher interface {
	PublishSegment(ctx context.Context, ev events.SegmentEvent) error
	PublishDictation(ctx context.Context, ev events.DictationEvent) error
}

// Config configures a [Session].
type Config struct {
	// ID identifies the session in logs and events. A random UUID is used
	// when empty.
	ID string

	// UserID owns every saved dictation.
	UserID string

	// Saver persists dictations. Required.
	Saver DictationSaver

	// Publisher is optional.
	Publisher Publisher

	// Corrector and Dictionary enable phonetic correction of final
	// segments. Both must be set.
	Corrector  *transcript.Corrector
	Dictionary *phonetic.Dictionary

	// TypingIdle is the typing suppression window. Defaults to
	// [DefaultTypingIdle].
	TypingIdle time.Duration

	// Buffer sizes the command and event channels. Defaults to 32.
	Buffer int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now is the clock. Defaults to [time.Now].
	Now func() time.Time
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdEdit
	cmdClear
	cmdSave
)

type command struct {
	kind     cmdKind
	text     string
	segments <-chan stt.Transcript
	reply    chan result
}

type result struct {
	dictation *store.Dictation
	err       error
}

// Session is one live dictation. Commands may be issued from any goroutine;
// all state is owned by the goroutine running [Session.Run].
type Session struct {
	id        string
	userID    string
	saver     DictationSaver
	publisher Publisher
	corrector *transcript.Corrector
	dict      *phonetic.Dictionary
	metrics   *observe.Metrics
	now       func() time.Time
	gate      *TypingGate

	cmds   chan command
	events chan Event
	done   chan struct{}

	// Owned by Run.
	merger    *transcript.Merger
	visible   string
	heldEdit  bool
	inflight  []string
	withheld  bool
	segments  <-chan stt.Transcript
	recording bool
	startedAt time.Time
	stoppedAt time.Time
	outbox    chan func(context.Context) error
}

// New creates a Session. Call [Session.Run] to start processing.
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		id:        cfg.ID,
		userID:    cfg.UserID,
		saver:     cfg.Saver,
		publisher: cfg.Publisher,
		corrector: cfg.Corrector,
		dict:      cfg.Dictionary,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		gate:      NewTypingGate(cfg.TypingIdle),
		cmds:      make(chan command, cfg.Buffer),
		events:    make(chan Event, cfg.Buffer),
		done:      make(chan struct{}),
		merger:    transcript.NewMerger(),
		outbox:    make(chan func(context.Context) error, cfg.Buffer),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the notification stream. It is closed when Run returns.
func (s *Session) Events() <-chan Event { return s.events }

// Start begins a recording fed by segments. The merger and the visible
// buffer are reset. The session reads segments until the channel is closed.
func (s *Session) Start(ctx context.Context, segments <-chan stt.Transcript) error {
	_, err := s.do(ctx, command{kind: cmdStart, segments: segments})
	return err
}

// Stop ends the recording. Segments still buffered on the recogniser stream
// are applied; closing the stream after Stop is not reported as an error.
func (s *Session) Stop(ctx context.Context) error {
	_, err := s.do(ctx, command{kind: cmdStop})
	return err
}

// Edit replaces the visible buffer with text typed by the user and
// suppresses recogniser output for the typing idle window.
func (s *Session) Edit(ctx context.Context, text string) error {
	s.gate.Touch()
	_, err := s.do(ctx, command{kind: cmdEdit, text: text})
	return err
}

// Clear empties the visible buffer and the merger.
func (s *Session) Clear(ctx context.Context) error {
	_, err := s.do(ctx, command{kind: cmdClear})
	return err
}

// Save persists the visible buffer and clears the session. It returns nil
// without saving when the buffer is blank.
func (s *Session) Save(ctx context.Context) (*store.Dictation, error) {
	return s.do(ctx, command{kind: cmdSave})
}

// SetTypingIdle changes the typing suppression window.
func (s *Session) SetTypingIdle(d time.Duration) { s.gate.SetWindow(d) }

// do hands c to the Run goroutine and waits until it has been applied.
func (s *Session) do(ctx context.Context, c command) (*store.Dictation, error) {
	select {
	case <-s.done:
		return nil, ErrSessionDone
	default:
	}

	c.reply = make(chan result, 1)
	select {
	case s.cmds <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionDone
	}

	select {
	case res := <-c.reply:
		return res.dictation, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionDone
	}
}

// Run processes segments and commands until ctx is cancelled. It must be
// called exactly once. Events is closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)
	defer close(s.done)
	defer s.gate.Stop()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	log := slog.With("session_id", s.id, "user_id", s.userID)
	log.Info("dictation session started")
	defer log.Info("dictation session ended")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(s.outbox)
		return s.loop(gctx)
	})
	g.Go(func() error {
		for job := range s.outbox {
			if err := job(context.WithoutCancel(gctx)); err != nil {
				log.Warn("publishing event failed", "err", err)
			}
		}
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c := <-s.cmds:
			s.handle(ctx, c)

		case seg, ok := <-s.segments:
			if !ok {
				s.segments = nil
				if s.recording {
					s.recording = false
					s.stoppedAt = s.now()
					s.emit(ctx, Event{Kind: EventClosed, Message: ClosedMessage})
				}
				continue
			}
			s.onSegment(ctx, seg)

		case <-s.gate.Idle():
			s.resync(ctx)
		}
	}
}

func (s *Session) handle(ctx context.Context, c command) {
	var res result
	switch c.kind {
	case cmdStart:
		s.reset()
		s.segments = c.segments
		s.recording = true
		s.startedAt = s.now()
		s.stoppedAt = time.Time{}
		s.emit(ctx, Event{Kind: EventTranscript, Update: newUpdate("")})

	case cmdStop:
		if s.recording {
			s.recording = false
			s.stoppedAt = s.now()
		}

	case cmdEdit:
		if !s.heldEdit {
			// The utterance still being recognised is part of the edited
			// text; its final segment will supply it again.
			s.inflight = strings.Fields(s.merger.Partial())
		}
		s.visible = c.text
		s.merger = transcript.NewMerger()
		s.merger.UpdatePartial(c.text)
		s.heldEdit = true
		s.withheld = false

	case cmdClear:
		s.reset()
		s.emit(ctx, Event{Kind: EventCleared})

	case cmdSave:
		res.dictation, res.err = s.save(ctx)
	}
	c.reply <- res
}

// reset replaces the merger and empties the visible buffer.
func (s *Session) reset() {
	s.merger = transcript.NewMerger()
	s.visible = ""
	s.heldEdit = false
	s.inflight = nil
	s.withheld = false
}

func (s *Session) onSegment(ctx context.Context, seg stt.Transcript) {
	s.metrics.RecordSegment(ctx, seg.IsFinal)
	if seg.Text == "" {
		return
	}

	if s.heldEdit {
		s.merger.CommitFinalSegment(s.editPrefix())
		s.heldEdit = false
		s.inflight = nil
	}

	if seg.IsFinal {
		text := seg.Text
		if s.corrector != nil && s.dict != nil && s.dict.Len() > 0 {
			var corrections []transcript.Correction
			text, corrections = s.corrector.Correct(text, s.dict)
			s.metrics.RecordCorrections(ctx, len(corrections))
		}
		s.merger.CommitFinalSegment(text)
		s.publishSegment(seg, text)
	} else {
		s.merger.UpdatePartial(seg.Text)
	}

	if s.gate.Typing() {
		s.withheld = true
		return
	}
	s.withheld = false
	s.visible = s.merger.Text()
	s.emit(ctx, Event{Kind: EventTranscript, Update: newUpdate(s.visible)})
}

// editPrefix returns the held edit without the trailing words of the
// utterance that was in flight when the user edited. When the user changed
// those words the whole edit is kept.
func (s *Session) editPrefix() string {
	words := strings.Fields(s.merger.Partial())
	n, m := len(words), len(s.inflight)
	if m == 0 || m > n || !slices.Equal(words[n-m:], s.inflight) {
		return s.merger.Partial()
	}
	return strings.Join(words[:n-m], " ")
}

// resync pushes merger output that was withheld while the user typed.
// An idle notification that raced a newer keystroke is ignored.
func (s *Session) resync(ctx context.Context) {
	if !s.withheld || s.gate.Typing() {
		return
	}
	s.withheld = false
	text := s.merger.Text()
	s.visible = text
	s.emit(ctx, Event{Kind: EventTranscript, Update: newUpdate(text)})
}

func (s *Session) save(ctx context.Context) (*store.Dictation, error) {
	text := strings.TrimSpace(s.visible)
	if text == "" {
		return nil, nil
	}

	d, err := s.saver.CreateDictation(ctx, s.userID, text, s.duration(text))
	if err != nil {
		s.emit(ctx, Event{Kind: EventError, Message: "Failed to save"})
		return nil, fmt.Errorf("dictation: save: %w", err)
	}
	s.metrics.RecordDictationSaved(ctx)

	s.reset()
	if s.recording {
		s.startedAt = s.now()
	} else {
		s.startedAt = time.Time{}
	}
	s.emit(ctx, Event{Kind: EventSaved, Dictation: &d})
	s.publishDictation(d)
	return &d, nil
}

// duration estimates the length of a dictation in whole seconds, at least 1.
// Recorded dictations use the time since recording started (up to Stop);
// typed text is estimated at two words per second.
func (s *Session) duration(text string) int {
	var sec float64
	if !s.startedAt.IsZero() {
		end := s.now()
		if !s.recording && !s.stoppedAt.IsZero() {
			end = s.stoppedAt
		}
		sec = end.Sub(s.startedAt).Seconds()
	} else {
		sec = float64(len(strings.Fields(text))) / 2
	}
	return max(1, int(math.Round(sec)))
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) publishSegment(seg stt.Transcript, text string) {
	if s.publisher == nil {
		return
	}
	ev := events.SegmentEvent{
		SessionID:  s.id,
		UserID:     s.userID,
		Text:       text,
		Confidence: seg.Confidence,
		Timestamp:  s.now(),
	}
	s.enqueue(func(ctx context.Context) error { return s.publisher.PublishSegment(ctx, ev) })
}

func (s *Session) publishDictation(d store.Dictation) {
	if s.publisher == nil {
		return
	}
	ev := events.DictationEvent{
		DictationID: d.ID,
		UserID:      s.userID,
		Text:        d.Text,
		DurationSec: d.DurationSec,
		CreatedAt:   d.CreatedAt,
	}
	s.enqueue(func(ctx context.Context) error { return s.publisher.PublishDictation(ctx, ev) })
}

// enqueue hands a publish job to the background publisher without blocking
// the session. Jobs are dropped when the queue is full.
func (s *Session) enqueue(job func(context.Context) error) {
	select {
	case s.outbox <- job:
	default:
		slog.Warn("event queue full, dropping event", "session_id", s.id)
	}
}
