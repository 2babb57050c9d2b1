package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the Blink tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    email            TEXT NOT NULL UNIQUE,
    hashed_password  TEXT NOT NULL,
    deepgram_options JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS dictations (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    text         TEXT NOT NULL,
    duration_sec INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dictations_user_created ON dictations(user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS dictionary_entries (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    phrase     TEXT NOT NULL,
    weight     DOUBLE PRECISION NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dictionary_entries_user_created ON dictionary_entries(user_id, created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over db. The caller is
// responsible for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPool parses dsn, connects a pgx pool and verifies it with a ping.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping runs a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// ── Users ──────────────────────────────────────────────────────────────────

// CreateUser inserts a user with a fresh UUID.
func (s *PostgresStore) CreateUser(ctx context.Context, name, email, hashedPassword string) (User, error) {
	const query = `
		INSERT INTO users (id, name, email, hashed_password)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	u := User{ID: uuid.NewString(), Name: name, Email: email, HashedPassword: hashedPassword}
	err := s.db.QueryRow(ctx, query, u.ID, u.Name, u.Email, u.HashedPassword).Scan(&u.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return User{}, fmt.Errorf("store: create user %q: %w", email, ErrDuplicate)
		}
		return User{}, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

// UserByEmail looks a user up by email.
func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, name, email, hashed_password, created_at
		FROM users WHERE email = $1`
	return s.scanUser(ctx, query, email)
}

// UserByID looks a user up by id.
func (s *PostgresStore) UserByID(ctx context.Context, id string) (User, error) {
	const query = `
		SELECT id, name, email, hashed_password, created_at
		FROM users WHERE id = $1`
	return s.scanUser(ctx, query, id)
}

func (s *PostgresStore) scanUser(ctx context.Context, query, arg string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.HashedPassword, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// DeepgramOptions returns the stored settings JSON, or nil.
func (s *PostgresStore) DeepgramOptions(ctx context.Context, userID string) (json.RawMessage, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT deepgram_options FROM users WHERE id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get deepgram options: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// SetDeepgramOptions replaces the stored settings JSON.
func (s *PostgresStore) SetDeepgramOptions(ctx context.Context, userID string, opts json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET deepgram_options = $2 WHERE id = $1`, userID, []byte(opts))
	if err != nil {
		return fmt.Errorf("store: set deepgram options: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Dictations ─────────────────────────────────────────────────────────────

// ListDictations returns one newest-first page and the user's total count.
func (s *PostgresStore) ListDictations(ctx context.Context, userID string, page Page) ([]Dictation, int, error) {
	const query = `
		SELECT id, user_id, text, duration_sec, created_at
		FROM dictations
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list dictations: %w", err)
	}
	defer rows.Close()

	items := []Dictation{}
	for rows.Next() {
		var d Dictation
		if err := rows.Scan(&d.ID, &d.UserID, &d.Text, &d.DurationSec, &d.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("store: scan dictation: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterate dictations: %w", err)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM dictations WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count dictations: %w", err)
	}
	return items, total, nil
}

// CreateDictation saves a new dictation.
func (s *PostgresStore) CreateDictation(ctx context.Context, userID, text string, durationSec int) (Dictation, error) {
	const query = `
		INSERT INTO dictations (id, user_id, text, duration_sec)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	d := Dictation{ID: uuid.NewString(), UserID: userID, Text: text, DurationSec: durationSec}
	if err := s.db.QueryRow(ctx, query, d.ID, userID, text, durationSec).Scan(&d.CreatedAt); err != nil {
		return Dictation{}, fmt.Errorf("store: create dictation: %w", err)
	}
	return d, nil
}

// GetDictation returns one dictation owned by userID.
func (s *PostgresStore) GetDictation(ctx context.Context, userID, id string) (Dictation, error) {
	const query = `
		SELECT id, user_id, text, duration_sec, created_at
		FROM dictations WHERE id = $1 AND user_id = $2`

	var d Dictation
	err := s.db.QueryRow(ctx, query, id, userID).Scan(&d.ID, &d.UserID, &d.Text, &d.DurationSec, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dictation{}, ErrNotFound
		}
		return Dictation{}, fmt.Errorf("store: get dictation %q: %w", id, err)
	}
	return d, nil
}

// UpdateDictationText replaces the text of a dictation owned by userID.
func (s *PostgresStore) UpdateDictationText(ctx context.Context, userID, id, text string) (Dictation, error) {
	const query = `
		UPDATE dictations SET text = $3
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, text, duration_sec, created_at`

	var d Dictation
	err := s.db.QueryRow(ctx, query, id, userID, text).Scan(&d.ID, &d.UserID, &d.Text, &d.DurationSec, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dictation{}, ErrNotFound
		}
		return Dictation{}, fmt.Errorf("store: update dictation %q: %w", id, err)
	}
	return d, nil
}

// DeleteDictation removes a dictation owned by userID.
func (s *PostgresStore) DeleteDictation(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM dictations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("store: delete dictation %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Dictionary ─────────────────────────────────────────────────────────────

// ListDictionary returns the user's entries, newest first.
func (s *PostgresStore) ListDictionary(ctx context.Context, userID string) ([]DictionaryEntry, error) {
	const query = `
		SELECT id, user_id, phrase, weight, created_at
		FROM dictionary_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list dictionary: %w", err)
	}
	defer rows.Close()

	entries := []DictionaryEntry{}
	for rows.Next() {
		var e DictionaryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Phrase, &e.Weight, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan dictionary entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate dictionary: %w", err)
	}
	return entries, nil
}

// CreateDictionaryEntry adds a phrase.
func (s *PostgresStore) CreateDictionaryEntry(ctx context.Context, userID, phrase string, weight float64) (DictionaryEntry, error) {
	const query = `
		INSERT INTO dictionary_entries (id, user_id, phrase, weight)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	e := DictionaryEntry{ID: uuid.NewString(), UserID: userID, Phrase: phrase, Weight: weight}
	if err := s.db.QueryRow(ctx, query, e.ID, userID, phrase, weight).Scan(&e.CreatedAt); err != nil {
		return DictionaryEntry{}, fmt.Errorf("store: create dictionary entry: %w", err)
	}
	return e, nil
}

// UpdateDictionaryEntry applies the non-nil fields of patch.
func (s *PostgresStore) UpdateDictionaryEntry(ctx context.Context, userID, id string, patch DictionaryPatch) (DictionaryEntry, error) {
	sets := []string{}
	args := []any{id, userID}
	if patch.Phrase != nil {
		args = append(args, *patch.Phrase)
		sets = append(sets, fmt.Sprintf("phrase = $%d", len(args)))
	}
	if patch.Weight != nil {
		args = append(args, *patch.Weight)
		sets = append(sets, fmt.Sprintf("weight = $%d", len(args)))
	}

	var query string
	if len(sets) == 0 {
		query = `
		SELECT id, user_id, phrase, weight, created_at
		FROM dictionary_entries WHERE id = $1 AND user_id = $2`
	} else {
		query = `
		UPDATE dictionary_entries SET ` + strings.Join(sets, ", ") + `
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, phrase, weight, created_at`
	}

	var e DictionaryEntry
	err := s.db.QueryRow(ctx, query, args...).Scan(&e.ID, &e.UserID, &e.Phrase, &e.Weight, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DictionaryEntry{}, ErrNotFound
		}
		return DictionaryEntry{}, fmt.Errorf("store: update dictionary entry %q: %w", id, err)
	}
	return e, nil
}

// DeleteDictionaryEntry removes a phrase owned by userID.
func (s *PostgresStore) DeleteDictionaryEntry(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM dictionary_entries WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("store: delete dictionary entry %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique-violation
// error (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
