// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (Deepgram today)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw audio chunks and emits one
// ordered stream of Transcript segments. Partial (interim) and final segments
// share that stream so that a consumer always observes them in the order the
// recogniser produced them.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio once the session has been closed.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the recognition options for a new STT session.
// Zero values mean "use the provider default".
type StreamConfig struct {
	// Model selects the recognition model (e.g. "nova-2", "nova-3").
	Model string

	// Language is the BCP-47 language tag for recognition (e.g. "en").
	Language string

	// SmartFormat, Punctuate and ProfanityFilter toggle the matching
	// recogniser post-processing features.
	SmartFormat     bool
	Punctuate       bool
	ProfanityFilter bool

	// Utterances enables utterance segmentation.
	Utterances bool

	// UtteranceSplitMS is the silence gap in milliseconds that splits
	// utterances. A non-zero value implies Utterances.
	UtteranceSplitMS int

	// Keyterms are phrases whose recognition probability should be boosted,
	// typically the user's dictionary phrases.
	Keyterms []string

	// Replacements are "find:replace" pairs applied by the recogniser.
	Replacements []string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live
// provider connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a chunk of encoded audio to the provider. Calling
	// SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Segments returns the ordered, read-only stream of partial and final
	// transcripts. The channel is closed when the session ends, either
	// because Close was called or because the provider hung up.
	Segments() <-chan Transcript

	// Close flushes pending audio, asks the provider to finish the stream and
	// releases all resources. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; every dictation session
// opens its own SessionHandle.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
