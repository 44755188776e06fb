package dedup

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func countRows(t *testing.T, st *store.SQLiteStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func f64(v float64) *float64 { return &v }

func agent(first, last, email, phone, business string) model.CandidateLead {
	return model.CandidateLead{
		PersonType: "agent",
		Business:   business,
		Contact:    model.CandidateContact{FirstName: first, LastName: last, Email: email, Phone: phone},
		Address: &model.CandidateAddress{
			Street1: "100 Biscayne Blvd", City: "Miami", State: "FL", Zipcode: "33132",
			Lat: f64(25.7743), Long: f64(-80.1867),
		},
		Source: model.SourceRapidAPI,
	}
}

func TestPersist_InsertsNewCandidate(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st, WithCreatedBy("leadscout"))

	stats := e.Persist(context.Background(), []model.CandidateLead{
		agent("Ana", "Lopez", "ana@example.com", "(305) 555-0100", "Sunrise Realty"),
	})

	assert.Equal(t, model.PersistStats{Inserted: 1}, stats)
	assert.Equal(t, 1, countRows(t, st, "leads"))
	assert.Equal(t, 1, countRows(t, st, "contacts"))
	assert.Equal(t, 1, countRows(t, st, "addresses"))

	var createdBy sql.NullString
	require.NoError(t, st.DB().QueryRow("SELECT created_by FROM leads").Scan(&createdBy))
	assert.Equal(t, "leadscout", createdBy.String)
}

func TestPersist_SameCandidateTwice(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	c := agent("Ana", "Lopez", "ana@example.com", "305-555-0100", "Sunrise Realty")

	first := e.Persist(context.Background(), []model.CandidateLead{c})
	second := e.Persist(context.Background(), []model.CandidateLead{c})

	var total model.PersistStats
	total.Add(first)
	total.Add(second)
	assert.Equal(t, model.PersistStats{Inserted: 1, Duplicates: 1}, total)
	assert.Equal(t, 1, countRows(t, st, "leads"))
}

func TestPersist_EmailAndPhoneMatchDifferentContacts(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)

	seed := e.Persist(context.Background(), []model.CandidateLead{
		agent("Ana", "Lopez", "ana@example.com", "", "A Realty"),
		agent("Bob", "Diaz", "", "305-555-0199", "B Realty"),
	})
	require.Equal(t, 2, seed.Inserted)

	// Email matches contact A, phone matches contact B.
	stats := e.Persist(context.Background(), []model.CandidateLead{
		agent("Ann", "L", " ANA@Example.com ", "(305) 555 0199", "C Realty"),
	})

	assert.Equal(t, model.PersistStats{Duplicates: 1}, stats)
	assert.Equal(t, 2, countRows(t, st, "leads"))
	assert.Equal(t, 2, countRows(t, st, "contacts"))
}

func TestPersist_PhoneDigitsMatch(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)

	e.Persist(context.Background(), []model.CandidateLead{agent("Bob", "", "", "+1 (305) 555-0199", "B Realty")})
	stats := e.Persist(context.Background(), []model.CandidateLead{agent("Robert", "", "", "1.305.555.0199", "Other")})

	assert.Equal(t, 1, stats.Duplicates)
}

func TestPersist_BusinessAddressMatch(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)

	first := model.CandidateLead{
		Business: "Sunrise Realty",
		Address:  &model.CandidateAddress{Street1: "100 Biscayne Blvd", City: "Miami", State: "FL"},
	}
	require.Equal(t, 1, e.Persist(context.Background(), []model.CandidateLead{first}).Inserted)

	tests := []struct {
		name    string
		addr    *model.CandidateAddress
		wantDup bool
	}{
		{"same tuple different case", &model.CandidateAddress{Street1: "100 BISCAYNE BLVD", City: "miami", State: "fl"}, true},
		{"blank street is unconstrained", &model.CandidateAddress{City: "Miami", State: "FL"}, true},
		{"different city", &model.CandidateAddress{Street1: "100 Biscayne Blvd", City: "Tampa", State: "FL"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := e.Persist(context.Background(), []model.CandidateLead{{Business: " sunrise realty ", Address: tt.addr}})
			if tt.wantDup {
				assert.Equal(t, 1, stats.Duplicates)
			} else {
				assert.Equal(t, 1, stats.Inserted)
			}
		})
	}
}

func TestPersist_NoFuzzyAddressMatching(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)

	e.Persist(context.Background(), []model.CandidateLead{{
		Business: "Sunrise Realty",
		Address:  &model.CandidateAddress{Street1: "100 Biscayne Street", City: "Miami"},
	}})
	stats := e.Persist(context.Background(), []model.CandidateLead{{
		Business: "Sunrise Realty",
		Address:  &model.CandidateAddress{Street1: "100 Biscayne St", City: "Miami"},
	}})
	assert.Equal(t, 1, stats.Inserted)
}

func TestPersist_Placeholders(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)

	stats := e.Persist(context.Background(), []model.CandidateLead{{
		Business: "Coastal Homes",
		Contact:  model.CandidateContact{Email: "hello@coastal.example"},
		Address:  &model.CandidateAddress{City: "Naples"},
	}})
	require.Equal(t, 1, stats.Inserted)

	var first, street, city, state, zip string
	require.NoError(t, st.DB().QueryRow("SELECT first_name FROM contacts").Scan(&first))
	require.NoError(t, st.DB().QueryRow("SELECT street_1, city, state, zipcode FROM addresses").Scan(&street, &city, &state, &zip))
	assert.Equal(t, "Coastal Homes", first)
	assert.Equal(t, "Naples", street)
	assert.Equal(t, "Naples", city)
	assert.Equal(t, "NA", state)
	assert.Equal(t, "00000", zip)
}

func TestPersist_NoContactNoAddress(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)

	stats := e.Persist(context.Background(), []model.CandidateLead{{Business: "Bare Listing", Website: "https://bare.example"}})
	require.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 0, countRows(t, st, "contacts"))
	assert.Equal(t, 0, countRows(t, st, "addresses"))
	assert.Equal(t, 1, countRows(t, st, "leads"))
}

func TestPersist_TextAddress(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)

	stats := e.Persist(context.Background(), []model.CandidateLead{
		{Business: "Parsed", Address: &model.CandidateAddress{Text: "200 Ocean Dr, Miami Beach, FL 33139"}},
		{Business: "Freeform", Address: &model.CandidateAddress{Text: "Miami"}},
	})
	require.Equal(t, 2, stats.Inserted)

	rows, err := st.DB().Query("SELECT street_1, city, state, zipcode FROM addresses ORDER BY address_id")
	require.NoError(t, err)
	defer rows.Close()

	var got [][4]string
	for rows.Next() {
		var r [4]string
		require.NoError(t, rows.Scan(&r[0], &r[1], &r[2], &r[3]))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, [][4]string{
		{"200 Ocean Dr", "Miami Beach", "FL", "33139"},
		{"Miami", "Miami", "NA", "00000"},
	}, got)
}

func TestPersist_BatchContinuesAfterFailure(t *testing.T) {
	fs := &failingStore{Store: newTestStore(t), failOn: 1}
	e := NewEngine(fs)

	stats := e.Persist(context.Background(), []model.CandidateLead{
		agent("A", "", "a@example.com", "", "A"),
		agent("B", "", "b@example.com", "", "B"),
		agent("C", "", "c@example.com", "", "C"),
	})
	assert.Equal(t, model.PersistStats{Inserted: 2, Failed: 1}, stats)
}

func TestPersist_UniqueViolationCountsAsDuplicate(t *testing.T) {
	fs := &failingStore{Store: newTestStore(t), failOn: 0, err: eris.Wrap(store.ErrUniqueViolation, "contacts.email")}
	e := NewEngine(fs)

	stats := e.Persist(context.Background(), []model.CandidateLead{agent("A", "", "a@example.com", "", "A")})
	assert.Equal(t, model.PersistStats{Duplicates: 1}, stats)
}

// failingStore fails the InTx call with the given index.
type failingStore struct {
	store.Store
	failOn int
	err    error
	calls  int
}

func (f *failingStore) InTx(ctx context.Context, fn func(store.Tx) error) error {
	n := f.calls
	f.calls++
	if n == f.failOn {
		if f.err != nil {
			return f.err
		}
		return eris.New("disk I/O error")
	}
	return f.Store.InTx(ctx, fn)
}
