package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the directory tables the bridge reads. The
// authoritative schema is owned by the CRM; this DDL exists so integration
// environments can be stood up via [PostgresStore.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS leads (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    phone            TEXT NOT NULL,
    property_address TEXT NOT NULL DEFAULT '',
    stage            TEXT NOT NULL DEFAULT '',
    notes            TEXT NOT NULL DEFAULT '',
    last_contact_at  TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone);

CREATE TABLE IF NOT EXISTS owners (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    phone            TEXT NOT NULL,
    property_address TEXT NOT NULL DEFAULT '',
    last_contact_at  TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_owners_phone ON owners(phone);

CREATE TABLE IF NOT EXISTS communications (
    id          TEXT PRIMARY KEY,
    lead_id     TEXT NOT NULL REFERENCES leads(id),
    channel     TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_communications_lead ON communications(lead_id);

CREATE TABLE IF NOT EXISTS appointments (
    id           TEXT PRIMARY KEY,
    lead_id      TEXT NOT NULL REFERENCES leads(id),
    scheduled_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_appointments_lead ON appointments(lead_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by the CRM's PostgreSQL database.
// All access is read-only apart from [PostgresStore.Migrate].
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] over the given connection or
// pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("directory: migrate: %w", err)
	}
	return nil
}

// FindLead looks a lead up by exact phone variants first, then by
// national-number suffix. Returns (nil, nil) when nothing matches.
func (s *PostgresStore) FindLead(ctx context.Context, variants PhoneVariants) (*Lead, error) {
	const exactQuery = `
		SELECT id, name, phone, property_address, stage, notes, last_contact_at
		FROM leads
		WHERE phone = ANY($1)
		ORDER BY created_at DESC
		LIMIT 1`
	const suffixQuery = `
		SELECT id, name, phone, property_address, stage, notes, last_contact_at
		FROM leads
		WHERE regexp_replace(phone, '[^0-9]', '', 'g') LIKE '%' || $1
		ORDER BY created_at DESC
		LIMIT 1`

	lead, err := scanLead(s.db.QueryRow(ctx, exactQuery, variants.All()))
	if err != nil {
		return nil, fmt.Errorf("directory: find lead: %w", err)
	}
	if lead != nil || variants.Suffix == "" {
		return lead, nil
	}

	lead, err = scanLead(s.db.QueryRow(ctx, suffixQuery, variants.Suffix))
	if err != nil {
		return nil, fmt.Errorf("directory: find lead by suffix: %w", err)
	}
	return lead, nil
}

// FindOwner looks a property owner up the same way as [PostgresStore.FindLead].
func (s *PostgresStore) FindOwner(ctx context.Context, variants PhoneVariants) (*Owner, error) {
	const exactQuery = `
		SELECT id, name, phone, property_address, last_contact_at
		FROM owners
		WHERE phone = ANY($1)
		ORDER BY created_at DESC
		LIMIT 1`
	const suffixQuery = `
		SELECT id, name, phone, property_address, last_contact_at
		FROM owners
		WHERE regexp_replace(phone, '[^0-9]', '', 'g') LIKE '%' || $1
		ORDER BY created_at DESC
		LIMIT 1`

	owner, err := scanOwner(s.db.QueryRow(ctx, exactQuery, variants.All()))
	if err != nil {
		return nil, fmt.Errorf("directory: find owner: %w", err)
	}
	if owner != nil || variants.Suffix == "" {
		return owner, nil
	}

	owner, err = scanOwner(s.db.QueryRow(ctx, suffixQuery, variants.Suffix))
	if err != nil {
		return nil, fmt.Errorf("directory: find owner by suffix: %w", err)
	}
	return owner, nil
}

// CommunicationCounts returns the lead's prior outreach grouped by channel.
func (s *PostgresStore) CommunicationCounts(ctx context.Context, leadID string) (map[string]int, error) {
	const query = `
		SELECT channel, count(*)
		FROM communications
		WHERE lead_id = $1
		GROUP BY channel`

	rows, err := s.db.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("directory: communication counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var channel string
		var n int
		if err := rows.Scan(&channel, &n); err != nil {
			return nil, fmt.Errorf("directory: communication counts scan: %w", err)
		}
		counts[channel] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: communication counts: %w", err)
	}
	return counts, nil
}

// HasAppointmentWithin reports whether the lead has an appointment scheduled
// within ±window of at.
func (s *PostgresStore) HasAppointmentWithin(ctx context.Context, leadID string, at time.Time, window time.Duration) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE lead_id = $1 AND scheduled_at BETWEEN $2 AND $3
		)`

	var exists bool
	err := s.db.QueryRow(ctx, query, leadID, at.Add(-window), at.Add(window)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("directory: appointment lookup: %w", err)
	}
	return exists, nil
}

// scanLead scans a single lead row, mapping pgx.ErrNoRows to (nil, nil).
func scanLead(row pgx.Row) (*Lead, error) {
	var l Lead
	var lastContact *time.Time
	err := row.Scan(&l.ID, &l.Name, &l.Phone, &l.PropertyAddress, &l.Stage, &l.Notes, &lastContact)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastContact != nil {
		l.LastContactAt = *lastContact
	}
	return &l, nil
}

// scanOwner scans a single owner row, mapping pgx.ErrNoRows to (nil, nil).
func scanOwner(row pgx.Row) (*Owner, error) {
	var o Owner
	var lastContact *time.Time
	err := row.Scan(&o.ID, &o.Name, &o.Phone, &o.PropertyAddress, &lastContact)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastContact != nil {
		o.LastContactAt = *lastContact
	}
	return &o, nil
}
