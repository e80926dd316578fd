package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
)

// ErrContactNotFound is returned when a public key has no row.
var ErrContactNotFound = errors.New("contact not found")

// Store keeps the contact registry in SQLite. It is a registry.Source:
// the daemon reads it into immutable snapshots.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS contacts (
		public_key TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		last_seen DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Name lookups and prefix scans
	CREATE INDEX IF NOT EXISTS idx_contacts_name ON contacts(name);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create contacts table: %w", err)
	}
	return nil
}

// UpsertContact inserts or replaces one contact. The key is normalised to
// lowercase hex.
func (s *Store) UpsertContact(ctx context.Context, c registry.Contact) error {
	return upsert(ctx, s.db, c)
}

// ImportContacts upserts many contacts in a single transaction.
func (s *Store) ImportContacts(ctx context.Context, contacts []registry.Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	for _, c := range contacts {
		if err := upsert(ctx, tx, c); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, c registry.Contact) error {
	key := packet.NormalizeHex(c.PublicKey)
	if key == "" {
		return fmt.Errorf("invalid public key %q", c.PublicKey)
	}
	var lastSeen any
	if !c.LastSeen.IsZero() {
		lastSeen = c.LastSeen.UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO contacts (public_key, name, role, last_seen, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(public_key) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			last_seen = excluded.last_seen,
			updated_at = CURRENT_TIMESTAMP
	`, key, strings.TrimSpace(c.Name), string(c.Role), lastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert contact %s: %w", key, err)
	}
	return nil
}

// DeleteContact removes a contact. Deleting an unknown key returns
// ErrContactNotFound.
func (s *Store) DeleteContact(ctx context.Context, publicKey string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE public_key = ?`, packet.NormalizeHex(publicKey))
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrContactNotFound
	}
	return nil
}

// Contact reads one contact by full public key.
func (s *Store) Contact(ctx context.Context, publicKey string) (registry.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_key, name, role, last_seen FROM contacts WHERE public_key = ?
	`, packet.NormalizeHex(publicKey))
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Contact{}, ErrContactNotFound
	}
	return c, err
}

// Contacts returns every contact ordered by public key.
func (s *Store) Contacts(ctx context.Context) ([]registry.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT public_key, name, role, last_seen FROM contacts ORDER BY public_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var out []registry.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (registry.Contact, error) {
	var (
		c        registry.Contact
		role     string
		lastSeen sql.NullTime
	)
	if err := row.Scan(&c.PublicKey, &c.Name, &role, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan contact: %w", err)
	}
	c.Role = packet.Role(role)
	if lastSeen.Valid {
		c.LastSeen = lastSeen.Time.UTC()
	}
	return c, nil
}
