// Package postgres persists sessions in PostgreSQL with the refresh token
// encrypted at rest.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"sdabot/internal/domain"
	"sdabot/internal/security/secretbox"
	"sdabot/internal/store"
)

const schema = `
create table if not exists steam_sessions (
	account       text primary key,
	state         jsonb not null,
	refresh_token text not null,
	updated_at    timestamptz not null
)`

type Store struct {
	db  *sql.DB
	box *secretbox.Box
}

// NewStore opens the database, verifies connectivity and ensures the
// sessions table exists. An empty encryption key stores refresh tokens in
// the clear.
func NewStore(databaseURL, encryptionKey string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	s := &Store{db: db}
	if encryptionKey != "" {
		box, err := secretbox.New(encryptionKey)
		if err != nil {
			return nil, err
		}
		s.box = box
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveSession(ctx context.Context, account string, state domain.SessionState) error {
	token := state.RefreshToken
	if s.box != nil {
		enc, err := s.box.Encrypt(token)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		token = enc
	}

	// The token column is authoritative for the refresh token; the JSON
	// blob never carries it.
	state.RefreshToken = ""
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`insert into steam_sessions(account, state, refresh_token, updated_at)
		 values ($1, $2, $3, $4)
		 on conflict (account) do update
		 set state = excluded.state,
		     refresh_token = excluded.refresh_token,
		     updated_at = excluded.updated_at`,
		account, blob, token, state.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, account string) (domain.SessionState, error) {
	var (
		blob  []byte
		token string
	)
	err := s.db.QueryRowContext(ctx,
		`select state, refresh_token from steam_sessions where account = $1`,
		account).Scan(&blob, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionState{}, store.ErrNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("load session: %w", err)
	}

	var state domain.SessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.box != nil && token != "" {
		plain, err := s.box.Decrypt(token)
		if err != nil {
			return domain.SessionState{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
		token = plain
	}
	state.RefreshToken = token
	return state, nil
}

func (s *Store) DeleteSession(ctx context.Context, account string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from steam_sessions where account = $1`, account)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) LastUpdate(ctx context.Context, account string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`select updated_at from steam_sessions where account = $1`,
		account).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, store.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last update: %w", err)
	}
	return ts, nil
}
