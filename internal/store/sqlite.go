package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"

	"github.com/zalahq/leadscout/internal/geo"
	"github.com/zalahq/leadscout/internal/model"
)

func init() {
	// digits_only mirrors Postgres regexp_replace(x, '\D', '', 'g').
	if err := sqlite.RegisterDeterministicScalarFunction("digits_only", 1, digitsOnlyFunc); err != nil {
		panic(err)
	}
}

func digitsOnlyFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return DigitsOnly(v), nil
	case []byte:
		return DigitsOnly(string(v)), nil
	case int64:
		return DigitsOnly(strconv.FormatInt(v, 10)), nil
	default:
		return nil, nil
	}
}

// DigitsOnly strips every non-digit rune from s.
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for tooling and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	contact_id INTEGER PRIMARY KEY AUTOINCREMENT,
	first_name TEXT NOT NULL,
	last_name  TEXT,
	email      TEXT,
	phone      TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS addresses (
	address_id INTEGER PRIMARY KEY AUTOINCREMENT,
	street_1   TEXT NOT NULL,
	street_2   TEXT,
	city       TEXT NOT NULL,
	state      TEXT NOT NULL,
	zipcode    TEXT NOT NULL,
	lat        REAL,
	long       REAL
);

CREATE TABLE IF NOT EXISTS leads (
	lead_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	person_type TEXT,
	business    TEXT,
	website     TEXT,
	license_num TEXT,
	notes       TEXT,
	contact_id  INTEGER REFERENCES contacts(contact_id),
	address_id  INTEGER REFERENCES addresses(address_id),
	created_by  TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS properties (
	property_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	property_name TEXT NOT NULL,
	address_id    INTEGER UNIQUE REFERENCES addresses(address_id),
	mls_number    TEXT,
	lead_id       INTEGER REFERENCES leads(lead_id),
	notes         TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_email_lower ON contacts (lower(email));
CREATE INDEX IF NOT EXISTS idx_addresses_lat_long ON addresses (lat, long);
CREATE INDEX IF NOT EXISTS idx_leads_business_lower ON leads (lower(business));
CREATE INDEX IF NOT EXISTS idx_leads_address_id ON leads (address_id);
CREATE INDEX IF NOT EXISTS idx_properties_lead_id ON properties (lead_id);
`

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the tables and indexes if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx implements Store.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return sqliteUnique(err)
	}
	if err := tx.Commit(); err != nil {
		return sqliteUnique(eris.Wrap(err, "sqlite: commit"))
	}
	return nil
}

func sqliteUnique(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return eris.Wrap(ErrUniqueViolation, err.Error())
	}
	return err
}

// ?1..?4 = lat min, lat max, lon min, lon max.
const sqliteNearbyLeadIDs = `
	SELECT l.lead_id FROM leads l
	JOIN addresses a ON a.address_id = l.address_id
	WHERE a.lat IS NOT NULL AND a.long IS NOT NULL
	  AND a.lat BETWEEN ?1 AND ?2 AND a.long BETWEEN ?3 AND ?4
	UNION
	SELECT p.lead_id FROM properties p
	JOIN addresses a ON a.address_id = p.address_id
	WHERE p.lead_id IS NOT NULL AND a.lat IS NOT NULL AND a.long IS NOT NULL
	  AND a.lat BETWEEN ?1 AND ?2 AND a.long BETWEEN ?3 AND ?4`

// SearchNearby implements Store.
func (s *SQLiteStore) SearchNearby(ctx context.Context, lat, lon, radiusMiles float64) ([]model.LeadRecord, error) {
	box := geo.BoundingBox(lat, lon, radiusMiles)
	args := []any{box.Min(1), box.Max(1), box.Min(0), box.Max(0)}

	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+`
		FROM leads l
		LEFT JOIN contacts c ON c.contact_id = l.contact_id
		LEFT JOIN addresses a ON a.address_id = l.address_id
		WHERE l.lead_id IN (`+sqliteNearbyLeadIDs+`)
		ORDER BY l.lead_id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search nearby leads")
	}
	var leads []model.LeadRecord
	for rows.Next() {
		rec, err := scanLeadRow(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, rec)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate leads")
	}
	if len(leads) == 0 {
		return []model.LeadRecord{}, nil
	}

	propRows, err := s.db.QueryContext(ctx, `SELECT `+propertyColumns+`
		FROM properties p
		LEFT JOIN addresses a ON a.address_id = p.address_id
		WHERE p.lead_id IN (`+sqliteNearbyLeadIDs+`)
		ORDER BY p.property_id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search nearby properties")
	}
	defer propRows.Close() //nolint:errcheck
	var props []model.Property
	for propRows.Next() {
		p, err := scanPropertyRow(propRows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan property")
		}
		props = append(props, p)
	}
	if err := propRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate properties")
	}

	return rankNearby(leads, props, lat, lon, radiusMiles), nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if eris.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *sqliteTx) ContactEmailExists(ctx context.Context, email string) (bool, error) {
	ok, err := t.exists(ctx, `SELECT 1 FROM contacts WHERE lower(email) = ? LIMIT 1`, normalize(email))
	return ok, eris.Wrap(err, "sqlite: lookup contact email")
}

func (t *sqliteTx) ContactPhoneExists(ctx context.Context, digits string) (bool, error) {
	ok, err := t.exists(ctx, `SELECT 1 FROM contacts WHERE digits_only(phone) = ? LIMIT 1`, digits)
	return ok, eris.Wrap(err, "sqlite: lookup contact phone")
}

func (t *sqliteTx) LeadBusinessAddressExists(ctx context.Context, key BusinessAddressKey) (bool, error) {
	k := key.Normalized()
	ok, err := t.exists(ctx, `SELECT 1 FROM leads l
		LEFT JOIN addresses a ON a.address_id = l.address_id
		WHERE lower(l.business) = ?1
		  AND (?2 = '' OR lower(a.street_1) = ?2)
		  AND (?3 = '' OR lower(a.city) = ?3)
		  AND (?4 = '' OR lower(a.state) = ?4)
		LIMIT 1`, k.Business, k.Street1, k.City, k.State)
	return ok, eris.Wrap(err, "sqlite: lookup lead business address")
}

func (t *sqliteTx) InsertContact(ctx context.Context, c *model.Contact) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `INSERT INTO contacts (first_name, last_name, email, phone)
		VALUES (?, ?, ?, ?) RETURNING contact_id`,
		c.FirstName, c.LastName, c.Email, c.Phone).Scan(&id)
	return id, eris.Wrap(err, "sqlite: insert contact")
}

func (t *sqliteTx) InsertAddress(ctx context.Context, a *model.Address) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `INSERT INTO addresses (street_1, street_2, city, state, zipcode, lat, long)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING address_id`,
		a.Street1, a.Street2, a.City, a.State, a.Zipcode, a.Lat, a.Long).Scan(&id)
	return id, eris.Wrap(err, "sqlite: insert address")
}

func (t *sqliteTx) InsertLead(ctx context.Context, l *model.Lead) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `INSERT INTO leads (person_type, business, website, license_num, notes, contact_id, address_id, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING lead_id`,
		l.PersonType, l.Business, l.Website, l.LicenseNum, l.Notes, l.ContactID, l.AddressID, l.CreatedBy).Scan(&id)
	return id, eris.Wrap(err, "sqlite: insert lead")
}
