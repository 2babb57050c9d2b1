package stt

import "time"

// Transcript is a single recogniser segment. Partial and final segments use
// the same type and are told apart by IsFinal.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal marks an authoritative segment that the recogniser will never
	// revise. Partial segments supersede each other until a final arrives.
	IsFinal bool

	// SpeechFinal is set when the recogniser detected the end of an
	// utterance together with this final segment.
	SpeechFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// Start is the segment start offset relative to the stream start.
	Start time.Duration

	// Duration is the length of the segment.
	Duration time.Duration
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
