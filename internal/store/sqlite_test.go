package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalahq/leadscout/internal/model"
)

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_ContactEmailExists_CaseInsensitive(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedLead(t, st, "Acme Realty", "Ana@Example.com", "", nil, nil)

	err := st.InTx(context.Background(), func(tx Tx) error {
		ok, err := tx.ContactEmailExists(context.Background(), "  ana@example.COM ")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.ContactEmailExists(context.Background(), "bob@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLite_ContactPhoneExists_DigitsOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedLead(t, st, "Acme Realty", "", "(305) 555-0100", nil, nil)

	err := st.InTx(context.Background(), func(tx Tx) error {
		ok, err := tx.ContactPhoneExists(context.Background(), "3055550100")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.ContactPhoneExists(context.Background(), "3055550199")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLite_LeadBusinessAddressExists(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedLead(t, st, "Acme Realty", "", "", nil, nil)

	tests := []struct {
		name string
		key  BusinessAddressKey
		want bool
	}{
		{"exact", BusinessAddressKey{Business: "Acme Realty", Street1: "1 Main St", City: "Miami", State: "FL"}, true},
		{"case and space", BusinessAddressKey{Business: " ACME realty ", Street1: "1 main st", City: "MIAMI", State: "fl"}, true},
		{"blank parts unconstrained", BusinessAddressKey{Business: "Acme Realty", City: "Miami"}, true},
		{"different street", BusinessAddressKey{Business: "Acme Realty", Street1: "2 Main St", City: "Miami", State: "FL"}, false},
		{"different business", BusinessAddressKey{Business: "Other", Street1: "1 Main St", City: "Miami", State: "FL"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.InTx(context.Background(), func(tx Tx) error {
				ok, err := tx.LeadBusinessAddressExists(context.Background(), tt.key)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ok)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestSQLite_InTx_UniqueViolation(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedLead(t, st, "Acme Realty", "ana@example.com", "", nil, nil)

	err := st.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.InsertContact(context.Background(), &model.Contact{FirstName: "Ana", Email: strPtr("ANA@example.com")})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestSQLite_InTx_RollsBack(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.InTx(ctx, func(tx Tx) error {
		_, err := tx.InsertContact(ctx, &model.Contact{FirstName: "Ana", Email: strPtr("ana@example.com")})
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var n int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSQLite_SearchNearby(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	near := seedLead(t, st, "Near", "near@example.com", "", f64(25.78), f64(-80.20))
	nearer := seedLead(t, st, "Nearer", "nearer@example.com", "", f64(25.7617), f64(-80.1918))
	seedLead(t, st, "Far", "far@example.com", "", f64(28.5383), f64(-81.3792))
	seedLead(t, st, "NoCoords", "none@example.com", "", nil, nil)

	leads, err := st.SearchNearby(ctx, 25.7617, -80.1918, 50)
	require.NoError(t, err)
	require.Len(t, leads, 2)

	assert.Equal(t, nearer, leads[0].ID)
	assert.Equal(t, near, leads[1].ID)
	require.NotNil(t, leads[0].DistanceMiles)
	assert.Equal(t, 0.0, *leads[0].DistanceMiles)
	require.NotNil(t, leads[1].Contact)
	assert.Equal(t, "near@example.com", *leads[1].Contact.Email)
	require.NotNil(t, leads[1].Address)
	assert.Equal(t, "Miami", leads[1].Address.City)
	assert.NotNil(t, leads[1].Properties)
}

func TestSQLite_SearchNearby_PropertyAddress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Lead office is far away, but it has a listing near the center.
	leadID := seedLead(t, st, "Remote Office", "remote@example.com", "", f64(40.7128), f64(-74.0060))
	res, err := st.DB().Exec(`INSERT INTO addresses (street_1, city, state, zipcode, lat, long)
		VALUES ('9 Ocean Dr', 'Miami Beach', 'FL', '33139', 25.7907, -80.1300)`)
	require.NoError(t, err)
	addrID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO properties (property_name, address_id, lead_id, mls_number)
		VALUES ('Ocean Condo', ?, ?, 'A123')`, addrID, leadID)
	require.NoError(t, err)

	leads, err := st.SearchNearby(ctx, 25.7617, -80.1918, 50)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, leadID, leads[0].ID)
	require.Len(t, leads[0].Properties, 1)
	assert.Equal(t, "Ocean Condo", *leads[0].Properties[0].PropertyName)
	require.NotNil(t, leads[0].Properties[0].Address)
	assert.Equal(t, "Miami Beach", leads[0].Properties[0].Address.City)
	require.NotNil(t, leads[0].DistanceMiles)
	assert.Less(t, *leads[0].DistanceMiles, 5.0)
}

func TestSQLite_SearchNearby_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	leads, err := st.SearchNearby(context.Background(), 25.7617, -80.1918, 50)
	require.NoError(t, err)
	assert.NotNil(t, leads)
	assert.Empty(t, leads)
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "13055550100", DigitsOnly("+1 (305) 555-0100"))
	assert.Equal(t, "", DigitsOnly("n/a"))
}
