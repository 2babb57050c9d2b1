// Package settings validates per-user recogniser options and turns them into
// stream configurations.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/blink/internal/config"
	"github.com/MrWong99/blink/pkg/provider/stt"
)

// Limits enforced by [Deepgram.Validate].
const (
	MinUttSplit      = 100
	MaxUttSplit      = 5000
	MaxKeyterms      = 50
	MaxKeytermLen    = 64
	MaxReplacements  = 50
	MaxReplacement   = 128
	maxSettingsBytes = 64 << 10
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("settings: invalid")

// Deepgram holds the transcription options a user can change. Unset fields
// are omitted when stored so that later defaults still apply.
type Deepgram struct {
	Model           config.Model `json:"model,omitempty"`
	SmartFormat     *bool        `json:"smart_format,omitempty"`
	Punctuate       *bool        `json:"punctuate,omitempty"`
	Paragraphs      *bool        `json:"paragraphs,omitempty"`
	Utterances      *bool        `json:"utterances,omitempty"`
	UttSplit        *int         `json:"utt_split,omitempty"`
	ProfanityFilter *bool        `json:"profanity_filter,omitempty"`
	Keyterm         []string     `json:"keyterm,omitempty"`
	Replace         []string     `json:"replace,omitempty"`
}

// Parse decodes and validates a settings document. Unknown keys are
// dropped. An empty body or JSON null yields zero settings.
func Parse(data []byte) (Deepgram, error) {
	var d Deepgram
	if len(data) > maxSettingsBytes {
		return d, fmt.Errorf("%w: body too large", ErrInvalid)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return d, nil
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return Deepgram{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := d.Validate(); err != nil {
		return Deepgram{}, err
	}
	return d, nil
}

// UnmarshalJSON accepts utt_split as a JSON number or as a string holding
// an integer, since form inputs submit numbers as text.
func (d *Deepgram) UnmarshalJSON(data []byte) error {
	type plain Deepgram
	aux := struct {
		*plain
		UttSplit json.RawMessage `json:"utt_split"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.UttSplit = nil
	raw := bytes.TrimSpace(aux.UttSplit)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var n int
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return fmt.Errorf("utt_split %q is not an integer", text)
		}
		n = int(f)
	} else if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("utt_split: %w", err)
	}
	d.UttSplit = &n
	return nil
}

// Validate checks d against the limits the recogniser accepts.
func (d Deepgram) Validate() error {
	var errs []error
	if d.Model != "" && !d.Model.IsValid() {
		errs = append(errs, fmt.Errorf("model %q is not one of nova-2, nova-3", d.Model))
	}
	if d.UttSplit != nil && (*d.UttSplit < MinUttSplit || *d.UttSplit > MaxUttSplit) {
		errs = append(errs, fmt.Errorf("utt_split %d is out of range [%d, %d]", *d.UttSplit, MinUttSplit, MaxUttSplit))
	}
	if err := checkList("keyterm", d.Keyterm, MaxKeyterms, MaxKeytermLen); err != nil {
		errs = append(errs, err)
	}
	if err := checkList("replace", d.Replace, MaxReplacements, MaxReplacement); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func checkList(name string, items []string, maxItems, maxLen int) error {
	if len(items) > maxItems {
		return fmt.Errorf("%s has %d items, at most %d allowed", name, len(items), maxItems)
	}
	for i, s := range items {
		if n := utf8.RuneCountInString(s); n < 1 || n > maxLen {
			return fmt.Errorf("%s[%d] must be 1 to %d characters", name, i, maxLen)
		}
	}
	return nil
}

// Marshal encodes d for storage.
func (d Deepgram) Marshal() (json.RawMessage, error) {
	return json.Marshal(d)
}

// Load decodes stored settings without validating them again. Missing
// settings yield the zero value.
func Load(raw json.RawMessage) (Deepgram, error) {
	var d Deepgram
	if len(bytes.TrimSpace(raw)) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return Deepgram{}, fmt.Errorf("settings: decode stored options: %w", err)
	}
	return d, nil
}

// StreamConfig maps d onto a recogniser stream configuration. keyterms
// replaces the user's own keyterm list (see dictation.MergeKeyterms); pass
// d.Keyterm to use it unchanged. Paragraphs has no live-stream equivalent
// and is not carried over.
func (d Deepgram) StreamConfig(keyterms []string) stt.StreamConfig {
	cfg := stt.StreamConfig{
		Model:           string(d.Model),
		SmartFormat:     isSet(d.SmartFormat),
		Punctuate:       isSet(d.Punctuate),
		Utterances:      isSet(d.Utterances),
		ProfanityFilter: isSet(d.ProfanityFilter),
		Keyterms:        keyterms,
		Replacements:    d.Replace,
	}
	if d.UttSplit != nil {
		cfg.UtteranceSplitMS = *d.UttSplit
	}
	return cfg
}

func isSet(b *bool) bool { return b != nil && *b }
