package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/blink/internal/dictation"
	"github.com/MrWong99/blink/internal/observe"
	"github.com/MrWong99/blink/internal/settings"
	"github.com/MrWong99/blink/internal/store"
	"github.com/MrWong99/blink/internal/transcript/phonetic"
	"github.com/MrWong99/blink/pkg/provider/stt"
)

const (
	// maxFrameBytes bounds a single audio chunk or command.
	maxFrameBytes = 1 << 20
	writeTimeout  = 5 * time.Second
)

// Client commands.
const (
	cmdStart = "start"
	cmdStop  = "stop"
	cmdEdit  = "edit"
	cmdClear = "clear"
	cmdSave  = "save"
)

type clientCommand struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type transcriptFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Committed string `json:"committed"`
	Live      string `json:"live"`
}

type savedFrame struct {
	Type      string           `json:"type"`
	Dictation *store.Dictation `json:"dictation"`
}

type messageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// frameFor converts a session event into its wire frame.
func frameFor(ev dictation.Event) any {
	switch ev.Kind {
	case dictation.EventTranscript:
		return transcriptFrame{
			Type:      string(ev.Kind),
			Text:      ev.Update.Text,
			Committed: ev.Update.Committed,
			Live:      ev.Update.Live,
		}
	case dictation.EventSaved:
		return savedFrame{Type: string(ev.Kind), Dictation: ev.Dictation}
	default:
		return messageFrame{Type: string(ev.Kind), Message: ev.Message}
	}
}

// handleStream upgrades to a WebSocket and runs one dictation session over
// it. Binary frames carry encoded audio; text frames carry JSON commands.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	st := &stream{server: s, conn: conn, userID: uid, log: log}
	if err := st.run(r.Context()); err != nil {
		log.Warn("dictation stream ended with error", "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// stream is the state of one dictation WebSocket. handle is only touched by
// the read loop.
type stream struct {
	server *Server
	conn   *websocket.Conn
	userID string
	log    *slog.Logger
	handle stt.SessionHandle
}

func (st *stream) run(ctx context.Context) error {
	s := st.server
	cfg := dictation.Config{
		UserID:     st.userID,
		Saver:      s.store,
		Publisher:  s.publisher,
		TypingIdle: time.Duration(s.typingIdle.Load()),
		Buffer:     s.buffer,
		Metrics:    s.metrics,
	}
	if s.corrector != nil && s.phonetic.Load() {
		dict, err := st.loadDictionary(ctx)
		if err != nil {
			return err
		}
		cfg.Corrector, cfg.Dictionary = s.corrector, dict
	}
	sess := dictation.New(cfg)
	st.log = st.log.With("session_id", sess.ID())
	if s.tracker != nil {
		s.tracker.Add(sess, st.userID)
		defer s.tracker.Remove(sess.ID())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return st.writeEvents(gctx, sess.Events()) })
	g.Go(func() error {
		defer cancel()
		defer st.closeHandle()
		return st.readLoop(gctx, sess)
	})
	return g.Wait()
}

func (st *stream) loadDictionary(ctx context.Context) (*phonetic.Dictionary, error) {
	entries, err := st.server.store.ListDictionary(ctx, st.userID)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	phrases := make([]string, 0, len(entries))
	for _, e := range entries {
		phrases = append(phrases, e.Phrase)
	}
	return phonetic.NewDictionary(phrases), nil
}

// writeEvents forwards session events to the client until the session ends.
func (st *stream) writeEvents(ctx context.Context, events <-chan dictation.Event) error {
	for ev := range events {
		if err := st.write(ctx, frameFor(ev)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

func (st *stream) write(ctx context.Context, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := st.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (st *stream) sendError(ctx context.Context, msg string) {
	if err := st.write(ctx, messageFrame{Type: string(dictation.EventError), Message: msg}); err != nil {
		st.log.Debug("sending error frame failed", "err", err)
	}
}

// readLoop applies client frames until the client goes away. A normal
// close is not an error.
func (st *stream) readLoop(ctx context.Context, sess *dictation.Session) error {
	for {
		typ, data, err := st.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if typ == websocket.MessageBinary {
			st.sendAudio(data)
			continue
		}
		if err := st.command(ctx, sess, data); err != nil {
			if errors.Is(err, dictation.ErrSessionDone) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (st *stream) sendAudio(chunk []byte) {
	if st.handle == nil {
		return
	}
	if err := st.handle.SendAudio(chunk); err != nil {
		st.log.Debug("dropping audio chunk", "err", err)
	}
}

func (st *stream) command(ctx context.Context, sess *dictation.Session, data []byte) error {
	var c clientCommand
	if err := json.Unmarshal(data, &c); err != nil {
		st.sendError(ctx, "Invalid command")
		return nil
	}

	switch c.Type {
	case cmdStart:
		return st.start(ctx, sess)
	case cmdStop:
		if err := sess.Stop(ctx); err != nil {
			return err
		}
		st.closeHandle()
		return nil
	case cmdEdit:
		return sess.Edit(ctx, c.Text)
	case cmdClear:
		return sess.Clear(ctx)
	case cmdSave:
		_, err := sess.Save(ctx)
		if err != nil && !errors.Is(err, dictation.ErrSessionDone) && ctx.Err() == nil {
			// The session already told the client.
			st.log.Error("saving dictation failed", "err", err)
			return nil
		}
		return err
	default:
		st.sendError(ctx, "Unknown command")
		return nil
	}
}

// start opens a recogniser stream with the user's settings and hands its
// segments to the session. A running stream is closed first.
func (st *stream) start(ctx context.Context, sess *dictation.Session) error {
	if st.handle != nil {
		if err := sess.Stop(ctx); err != nil {
			return err
		}
		st.closeHandle()
	}

	if st.server.stt == nil {
		st.sendError(ctx, "Deepgram not configured")
		return nil
	}

	cfg, err := st.server.streamConfig(ctx, st.userID)
	if err != nil {
		st.log.Error("loading stream settings failed", "err", err)
		st.sendError(ctx, "Failed to start transcription")
		return nil
	}

	begin := time.Now()
	handle, err := st.server.stt.StartStream(ctx, cfg)
	st.server.metrics.RecordProviderRequest(ctx, "deepgram", "stream", time.Since(begin).Seconds(), err)
	if err != nil {
		st.log.Error("starting recogniser stream failed", "err", err)
		st.sendError(ctx, "Failed to start transcription")
		return nil
	}
	st.handle = handle
	st.log.Info("recording started", "model", cfg.Model, "keyterms", len(cfg.Keyterms))
	return sess.Start(ctx, handle.Segments())
}

func (st *stream) closeHandle() {
	if st.handle == nil {
		return
	}
	if err := st.handle.Close(); err != nil {
		st.log.Debug("closing recogniser stream", "err", err)
	}
	st.handle = nil
}

// streamConfig builds the recogniser options for uid from their stored
// settings and dictionary.
func (s *Server) streamConfig(ctx context.Context, uid string) (stt.StreamConfig, error) {
	raw, err := s.store.DeepgramOptions(ctx, uid)
	if err != nil {
		return stt.StreamConfig{}, fmt.Errorf("load settings: %w", err)
	}
	d, err := settings.Load(raw)
	if err != nil {
		return stt.StreamConfig{}, err
	}
	entries, err := s.store.ListDictionary(ctx, uid)
	if err != nil {
		return stt.StreamConfig{}, fmt.Errorf("load dictionary: %w", err)
	}
	keyterms := dictation.MergeKeyterms(d.Keyterm, entries, int(s.maxKeyterms.Load()))
	return d.StreamConfig(keyterms), nil
}
