// Package store persists Blink users, saved dictations and dictionary
// entries.
//
// Two implementations are provided: [PostgresStore] for production and
// [MemStore] for local development and handler tests. Every query that
// touches dictations or dictionary entries is scoped to the owning user; an
// entry owned by someone else is reported as [ErrNotFound].
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist or is not owned by
	// the requesting user.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique constraint (user email) would
	// be violated.
	ErrDuplicate = errors.New("store: duplicate")
)

// User is a registered account.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Dictation is a saved transcript. Only the flattened text is kept.
type Dictation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Text        string    `json:"text"`
	DurationSec int       `json:"durationSec"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DictionaryEntry is a phrase that biases recognition for its owner.
type DictionaryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Phrase    string    `json:"phrase"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"createdAt"`
}

// DictionaryPatch carries the fields of a partial dictionary update. Nil
// fields are left unchanged.
type DictionaryPatch struct {
	Phrase *string
	Weight *float64
}

// Page selects a window of a newest-first listing.
type Page struct {
	Offset int
	Limit  int
}

// Store is the persistence interface used by the HTTP API and dictation
// sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	// CreateUser inserts a user. Returns [ErrDuplicate] when the email is
	// already registered.
	CreateUser(ctx context.Context, name, email, hashedPassword string) (User, error)

	// UserByEmail looks a user up by email. Returns [ErrNotFound].
	UserByEmail(ctx context.Context, email string) (User, error)

	// UserByID looks a user up by id. Returns [ErrNotFound].
	UserByID(ctx context.Context, id string) (User, error)

	// DeepgramOptions returns the raw stored recogniser settings of a user,
	// or nil when none were saved.
	DeepgramOptions(ctx context.Context, userID string) (json.RawMessage, error)

	// SetDeepgramOptions replaces the stored recogniser settings.
	SetDeepgramOptions(ctx context.Context, userID string, opts json.RawMessage) error

	// ListDictations returns one page of the user's dictations, newest
	// first, and the total number of dictations the user has.
	ListDictations(ctx context.Context, userID string, page Page) ([]Dictation, int, error)

	// CreateDictation saves a new dictation.
	CreateDictation(ctx context.Context, userID, text string, durationSec int) (Dictation, error)

	// GetDictation returns one dictation. Returns [ErrNotFound].
	GetDictation(ctx context.Context, userID, id string) (Dictation, error)

	// UpdateDictationText replaces the text of a dictation. Returns
	// [ErrNotFound].
	UpdateDictationText(ctx context.Context, userID, id, text string) (Dictation, error)

	// DeleteDictation removes a dictation. Returns [ErrNotFound].
	DeleteDictation(ctx context.Context, userID, id string) error

	// ListDictionary returns all dictionary entries of the user, newest
	// first.
	ListDictionary(ctx context.Context, userID string) ([]DictionaryEntry, error)

	// CreateDictionaryEntry adds a phrase.
	CreateDictionaryEntry(ctx context.Context, userID, phrase string, weight float64) (DictionaryEntry, error)

	// UpdateDictionaryEntry applies patch. Returns [ErrNotFound].
	UpdateDictionaryEntry(ctx context.Context, userID, id string, patch DictionaryPatch) (DictionaryEntry, error)

	// DeleteDictionaryEntry removes a phrase. Returns [ErrNotFound].
	DeleteDictionaryEntry(ctx context.Context, userID, id string) error
}
