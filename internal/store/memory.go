package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory [Store]. Data is lost when the process exits.
type MemStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	users       map[string]*User
	byEmail     map[string]string
	options     map[string]json.RawMessage
	dictations  map[string]*Dictation
	dictionary  map[string]*DictionaryEntry
	insertOrder map[string]int
	seq         int
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		now:         time.Now,
		users:       make(map[string]*User),
		byEmail:     make(map[string]string),
		options:     make(map[string]json.RawMessage),
		dictations:  make(map[string]*Dictation),
		dictionary:  make(map[string]*DictionaryEntry),
		insertOrder: make(map[string]int),
	}
}

// stamp assigns a creation time and insertion rank. Must hold m.mu.
func (m *MemStore) stamp(id string) time.Time {
	m.seq++
	m.insertOrder[id] = m.seq
	return m.now().UTC()
}

// newerFirst orders by creation time, then by insertion rank, newest first.
func (m *MemStore) newerFirst(idA string, a time.Time, idB string, b time.Time) int {
	if c := b.Compare(a); c != 0 {
		return c
	}
	return m.insertOrder[idB] - m.insertOrder[idA]
}

// Ping always succeeds.
func (m *MemStore) Ping(context.Context) error { return nil }

func (m *MemStore) CreateUser(_ context.Context, name, email, hashedPassword string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[email]; ok {
		return User{}, fmt.Errorf("store: create user %q: %w", email, ErrDuplicate)
	}
	u := &User{ID: uuid.NewString(), Name: name, Email: email, HashedPassword: hashedPassword}
	u.CreatedAt = m.stamp(u.ID)
	m.users[u.ID] = u
	m.byEmail[email] = u.ID
	return *u, nil
}

func (m *MemStore) UserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return *m.users[id], nil
}

func (m *MemStore) UserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (m *MemStore) DeepgramOptions(_ context.Context, userID string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[userID]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(m.options[userID]), nil
}

func (m *MemStore) SetDeepgramOptions(_ context.Context, userID string, opts json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	m.options[userID] = slices.Clone(opts)
	return nil
}

func (m *MemStore) ListDictations(_ context.Context, userID string, page Page) ([]Dictation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []Dictation
	for _, d := range m.dictations {
		if d.UserID == userID {
			all = append(all, *d)
		}
	}
	slices.SortFunc(all, func(a, b Dictation) int {
		return m.newerFirst(a.ID, a.CreatedAt, b.ID, b.CreatedAt)
	})
	total := len(all)
	start := min(max(page.Offset, 0), total)
	end := min(start+max(page.Limit, 0), total)
	items := append([]Dictation{}, all[start:end]...)
	return items, total, nil
}

func (m *MemStore) CreateDictation(_ context.Context, userID, text string, durationSec int) (Dictation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &Dictation{ID: uuid.NewString(), UserID: userID, Text: text, DurationSec: durationSec}
	d.CreatedAt = m.stamp(d.ID)
	m.dictations[d.ID] = d
	return *d, nil
}

func (m *MemStore) GetDictation(_ context.Context, userID, id string) (Dictation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dictations[id]
	if !ok || d.UserID != userID {
		return Dictation{}, ErrNotFound
	}
	return *d, nil
}

func (m *MemStore) UpdateDictationText(_ context.Context, userID, id, text string) (Dictation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dictations[id]
	if !ok || d.UserID != userID {
		return Dictation{}, ErrNotFound
	}
	d.Text = text
	return *d, nil
}

func (m *MemStore) DeleteDictation(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dictations[id]
	if !ok || d.UserID != userID {
		return ErrNotFound
	}
	delete(m.dictations, id)
	return nil
}

func (m *MemStore) ListDictionary(_ context.Context, userID string) ([]DictionaryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := []DictionaryEntry{}
	for _, e := range m.dictionary {
		if e.UserID == userID {
			entries = append(entries, *e)
		}
	}
	slices.SortFunc(entries, func(a, b DictionaryEntry) int {
		return m.newerFirst(a.ID, a.CreatedAt, b.ID, b.CreatedAt)
	})
	return entries, nil
}

func (m *MemStore) CreateDictionaryEntry(_ context.Context, userID, phrase string, weight float64) (DictionaryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &DictionaryEntry{ID: uuid.NewString(), UserID: userID, Phrase: phrase, Weight: weight}
	e.CreatedAt = m.stamp(e.ID)
	m.dictionary[e.ID] = e
	return *e, nil
}

func (m *MemStore) UpdateDictionaryEntry(_ context.Context, userID, id string, patch DictionaryPatch) (DictionaryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dictionary[id]
	if !ok || e.UserID != userID {
		return DictionaryEntry{}, ErrNotFound
	}
	if patch.Phrase != nil {
		e.Phrase = *patch.Phrase
	}
	if patch.Weight != nil {
		e.Weight = *patch.Weight
	}
	return *e, nil
}

func (m *MemStore) DeleteDictionaryEntry(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dictionary[id]
	if !ok || e.UserID != userID {
		return ErrNotFound
	}
	delete(m.dictionary, id)
	return nil
}
