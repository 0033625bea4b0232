// Package pg is the PostgreSQL-backed store for the trust core: credential
// rows, atomic rate-window counters, and read-only views over the hierarchy
// tables owned by the document subsystem.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema creates the tables this store owns. The hierarchy tables
// (drives, nodes, memberships, grants, users) belong to the document and
// account subsystems and are not managed here.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
create table if not exists credentials (
	id text primary key,
	owner_id text not null,
	kind text not null,
	scopes jsonb not null default '[]',
	token_hash text not null,
	csrf_secret text not null default '',
	tenant_id text not null default '',
	on_behalf_of text not null default '',
	purpose text not null default '',
	issued_at timestamptz not null,
	expires_at timestamptz not null,
	revoked_at timestamptz,
	revoke_reason text not null default '',
	created_by_service text not null default '',
	created_by_ip text not null default ''
);
create index if not exists credentials_owner_idx on credentials(owner_id);

create table if not exists rate_windows (
	key text primary key,
	window_start timestamptz not null,
	expires_at timestamptz not null,
	count bigint not null
);
`
