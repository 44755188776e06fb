package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zalahq/leadscout/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func strPtr(s string) *string { return &s }

func f64(v float64) *float64 { return &v }

// seedLead inserts a contact, an address and a lead in one transaction.
func seedLead(t *testing.T, s Store, business, email, phone string, lat, lon *float64) int64 {
	t.Helper()
	var leadID int64
	err := s.InTx(context.Background(), func(tx Tx) error {
		c := &model.Contact{FirstName: "Seed"}
		if email != "" {
			c.Email = &email
		}
		if phone != "" {
			c.Phone = &phone
		}
		cid, err := tx.InsertContact(context.Background(), c)
		if err != nil {
			return err
		}
		aid, err := tx.InsertAddress(context.Background(), &model.Address{
			Street1: "1 Main St", City: "Miami", State: "FL", Zipcode: "33101", Lat: lat, Long: lon,
		})
		if err != nil {
			return err
		}
		leadID, err = tx.InsertLead(context.Background(), &model.Lead{
			Business: strPtr(business), ContactID: &cid, AddressID: &aid,
		})
		return err
	})
	require.NoError(t, err)
	return leadID
}
