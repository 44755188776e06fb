package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/zalahq/leadscout/internal/db"
	"github.com/zalahq/leadscout/internal/geo"
	"github.com/zalahq/leadscout/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	contact_id BIGSERIAL PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name  TEXT,
	email      TEXT,
	phone      VARCHAR(20) UNIQUE
);

CREATE TABLE IF NOT EXISTS addresses (
	address_id BIGSERIAL PRIMARY KEY,
	street_1   TEXT NOT NULL,
	street_2   TEXT,
	city       TEXT NOT NULL,
	state      TEXT NOT NULL,
	zipcode    VARCHAR(10) NOT NULL,
	lat        DOUBLE PRECISION,
	long       DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS leads (
	lead_id     BIGSERIAL PRIMARY KEY,
	person_type TEXT,
	business    TEXT,
	website     TEXT,
	license_num TEXT,
	notes       TEXT,
	contact_id  BIGINT REFERENCES contacts(contact_id),
	address_id  BIGINT REFERENCES addresses(address_id),
	created_by  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS properties (
	property_id   BIGSERIAL PRIMARY KEY,
	property_name TEXT NOT NULL,
	address_id    BIGINT UNIQUE REFERENCES addresses(address_id),
	mls_number    TEXT,
	lead_id       BIGINT REFERENCES leads(lead_id),
	notes         TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_email_lower ON contacts (lower(email));
CREATE INDEX IF NOT EXISTS idx_contacts_phone_digits ON contacts (regexp_replace(phone, '\D', '', 'g'));
CREATE INDEX IF NOT EXISTS idx_addresses_lat_long ON addresses (lat, long);
CREATE INDEX IF NOT EXISTS idx_leads_business_lower ON leads (lower(business));
CREATE INDEX IF NOT EXISTS idx_leads_address_id ON leads (address_id);
CREATE INDEX IF NOT EXISTS idx_properties_lead_id ON properties (lead_id);
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	if err != nil && db.IsUniqueViolation(err) {
		return eris.Wrap(ErrUniqueViolation, err.Error())
	}
	return err
}

// nearbyLeadIDs selects every lead with an address or property address in
// the bounding box ($1..$4 = lat min, lat max, lon min, lon max).
const pgNearbyLeadIDs = `
	SELECT l.lead_id FROM leads l
	JOIN addresses a ON a.address_id = l.address_id
	WHERE a.lat IS NOT NULL AND a.long IS NOT NULL
	  AND a.lat BETWEEN $1 AND $2 AND a.long BETWEEN $3 AND $4
	UNION
	SELECT p.lead_id FROM properties p
	JOIN addresses a ON a.address_id = p.address_id
	WHERE p.lead_id IS NOT NULL AND a.lat IS NOT NULL AND a.long IS NOT NULL
	  AND a.lat BETWEEN $1 AND $2 AND a.long BETWEEN $3 AND $4`

// SearchNearby implements Store.
func (s *PostgresStore) SearchNearby(ctx context.Context, lat, lon, radiusMiles float64) ([]model.LeadRecord, error) {
	box := geo.BoundingBox(lat, lon, radiusMiles)
	args := []any{box.Min(1), box.Max(1), box.Min(0), box.Max(0)}

	rows, err := s.pool.Query(ctx, `SELECT `+leadColumns+`
		FROM leads l
		LEFT JOIN contacts c ON c.contact_id = l.contact_id
		LEFT JOIN addresses a ON a.address_id = l.address_id
		WHERE l.lead_id IN (`+pgNearbyLeadIDs+`)
		ORDER BY l.lead_id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search nearby leads")
	}
	var leads []model.LeadRecord
	for rows.Next() {
		rec, err := scanLeadRow(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate leads")
	}
	if len(leads) == 0 {
		return []model.LeadRecord{}, nil
	}

	propRows, err := s.pool.Query(ctx, `SELECT `+propertyColumns+`
		FROM properties p
		LEFT JOIN addresses a ON a.address_id = p.address_id
		WHERE p.lead_id IN (`+pgNearbyLeadIDs+`)
		ORDER BY p.property_id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search nearby properties")
	}
	defer propRows.Close()
	var props []model.Property
	for propRows.Next() {
		p, err := scanPropertyRow(propRows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan property")
		}
		props = append(props, p)
	}
	if err := propRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate properties")
	}

	return rankNearby(leads, props, lat, lon, radiusMiles), nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var one int
	err := t.tx.QueryRow(ctx, sql, args...).Scan(&one)
	if eris.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *pgTx) ContactEmailExists(ctx context.Context, email string) (bool, error) {
	ok, err := t.exists(ctx, `SELECT 1 FROM contacts WHERE lower(email) = $1 LIMIT 1`, normalize(email))
	return ok, eris.Wrap(err, "postgres: lookup contact email")
}

func (t *pgTx) ContactPhoneExists(ctx context.Context, digits string) (bool, error) {
	ok, err := t.exists(ctx, `SELECT 1 FROM contacts WHERE regexp_replace(phone, '\D', '', 'g') = $1 LIMIT 1`, digits)
	return ok, eris.Wrap(err, "postgres: lookup contact phone")
}

func (t *pgTx) LeadBusinessAddressExists(ctx context.Context, key BusinessAddressKey) (bool, error) {
	k := key.Normalized()
	ok, err := t.exists(ctx, `SELECT 1 FROM leads l
		LEFT JOIN addresses a ON a.address_id = l.address_id
		WHERE lower(l.business) = $1
		  AND ($2 = '' OR lower(a.street_1) = $2)
		  AND ($3 = '' OR lower(a.city) = $3)
		  AND ($4 = '' OR lower(a.state) = $4)
		LIMIT 1`, k.Business, k.Street1, k.City, k.State)
	return ok, eris.Wrap(err, "postgres: lookup lead business address")
}

func (t *pgTx) InsertContact(ctx context.Context, c *model.Contact) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO contacts (first_name, last_name, email, phone)
		VALUES ($1, $2, $3, $4) RETURNING contact_id`,
		c.FirstName, c.LastName, c.Email, c.Phone).Scan(&id)
	return id, eris.Wrap(err, "postgres: insert contact")
}

func (t *pgTx) InsertAddress(ctx context.Context, a *model.Address) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO addresses (street_1, street_2, city, state, zipcode, lat, long)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING address_id`,
		a.Street1, a.Street2, a.City, a.State, a.Zipcode, a.Lat, a.Long).Scan(&id)
	return id, eris.Wrap(err, "postgres: insert address")
}

func (t *pgTx) InsertLead(ctx context.Context, l *model.Lead) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO leads (person_type, business, website, license_num, notes, contact_id, address_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING lead_id`,
		l.PersonType, l.Business, l.Website, l.LicenseNum, l.Notes, l.ContactID, l.AddressID, l.CreatedBy).Scan(&id)
	return id, eris.Wrap(err, "postgres: insert lead")
}
