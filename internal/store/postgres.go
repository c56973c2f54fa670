package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/confidant/internal/domain"
	"github.com/antoniostano/confidant/internal/session"
)

const uniqueViolation = "23505"

// PostgresStore persists users, check-ins and conversations in PostgreSQL.
// Conversation messages are stored as a JSONB array on the conversation row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS checkins (
			id TEXT PRIMARY KEY,
			user_id TEXT NULL,
			mood SMALLINT NOT NULL CHECK (mood BETWEEN 1 AND 10),
			stress SMALLINT NOT NULL CHECK (stress BETWEEN 1 AND 10),
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_user_created ON checkins (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			summary TEXT NOT NULL DEFAULT '',
			crisis_flag BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_started ON conversations (user_id, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_crisis ON conversations (crisis_flag) WHERE crisis_flag;`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	user.Email = normalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.queryUser(ctx, `WHERE email=$1`, normalizeEmail(email))
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (domain.User, error) {
	return s.queryUser(ctx, `WHERE id=$1`, id)
}

func (s *PostgresStore) queryUser(ctx context.Context, where string, arg any) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at, updated_at FROM users `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SaveCheckin(ctx context.Context, checkin domain.Checkin) (domain.Checkin, error) {
	if checkin.ID == "" {
		checkin.ID = uuid.NewString()
	}
	if checkin.CreatedAt.IsZero() {
		checkin.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkins (id, user_id, mood, stress, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		checkin.ID,
		nullableText(checkin.UserID),
		checkin.Mood,
		checkin.Stress,
		checkin.Note,
		checkin.CreatedAt,
	)
	if err != nil {
		return domain.Checkin{}, fmt.Errorf("save checkin: %w", err)
	}
	return checkin, nil
}

func (s *PostgresStore) CheckinsSince(ctx context.Context, userID string, since time.Time) ([]domain.Checkin, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, mood, stress, note, created_at
		   FROM checkins WHERE user_id=$1 AND created_at >= $2 ORDER BY created_at ASC`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query checkins: %w", err)
	}
	return collectCheckins(rows)
}

func (s *PostgresStore) RecentCheckins(ctx context.Context, userID string, limit int) ([]domain.Checkin, error) {
	// LIMIT NULL is unbounded.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, mood, stress, note, created_at
		   FROM checkins WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent checkins: %w", err)
	}
	return collectCheckins(rows)
}

func collectCheckins(rows pgx.Rows) ([]domain.Checkin, error) {
	defer rows.Close()
	var out []domain.Checkin
	for rows.Next() {
		var (
			c      domain.Checkin
			userID *string
		)
		if err := rows.Scan(&c.ID, &userID, &c.Mood, &c.Stress, &c.Note, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkin row: %w", err)
		}
		if userID != nil {
			c.UserID = *userID
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkin rows: %w", err)
	}
	return out, nil
}

// AppendExchange serializes writers per user with a transaction-scoped advisory
// lock, so two concurrent turns cannot both decide to start a new conversation.
func (s *PostgresStore) AppendExchange(ctx context.Context, userID string, ex domain.Exchange, now time.Time, window time.Duration) (domain.Conversation, error) {
	if window <= 0 {
		window = session.DefaultMergeWindow
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return domain.Conversation{}, fmt.Errorf("lock user conversations: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, user_id, messages, summary, crisis_flag, started_at, ended_at, updated_at
		   FROM conversations
		  WHERE user_id=$1 AND ended_at IS NULL AND updated_at >= $2
		  ORDER BY updated_at DESC LIMIT 10`,
		userID, now.Add(-window),
	)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("query active conversations: %w", err)
	}
	candidates, err := collectConversations(rows)
	if err != nil {
		return domain.Conversation{}, err
	}

	var conv domain.Conversation
	if active, ok := session.SelectActive(candidates, now, window); ok {
		conv = session.Apply(active, ex, now)
		appended, err := json.Marshal(conv.Messages[len(active.Messages):])
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("marshal messages: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE conversations
			    SET messages = messages || $2::jsonb,
			        crisis_flag = crisis_flag OR $3,
			        updated_at = $4
			  WHERE id=$1`,
			conv.ID, appended, ex.Crisis, conv.UpdatedAt,
		)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("append conversation: %w", err)
		}
	} else {
		conv = session.NewConversation(uuid.NewString(), userID, ex, now)
		msgs, err := json.Marshal(conv.Messages)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("marshal messages: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO conversations (id, user_id, messages, summary, crisis_flag, started_at, updated_at)
			 VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7)`,
			conv.ID, conv.UserID, msgs, conv.Summary, conv.CrisisFlag, conv.StartedAt, conv.UpdatedAt,
		)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("insert conversation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Conversation{}, fmt.Errorf("commit tx: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) RecentConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, messages, summary, crisis_flag, started_at, ended_at, updated_at
		   FROM conversations WHERE user_id=$1 ORDER BY started_at DESC LIMIT $2`,
		userID, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	return collectConversations(rows)
}

func collectConversations(rows pgx.Rows) ([]domain.Conversation, error) {
	defer rows.Close()
	var out []domain.Conversation
	for rows.Next() {
		var (
			c   domain.Conversation
			raw []byte
		)
		if err := rows.Scan(&c.ID, &c.UserID, &raw, &c.Summary, &c.CrisisFlag, &c.StartedAt, &c.EndedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if err := json.Unmarshal(raw, &c.Messages); err != nil {
			return nil, fmt.Errorf("decode conversation %s messages: %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) EndIdle(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET ended_at = updated_at WHERE ended_at IS NULL AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("end idle conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
