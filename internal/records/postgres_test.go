package records

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/models"
)

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "", zap.NewNop())
	assert.ErrorIs(t, err, models.ErrMisconfigured)
}

func TestDecodeMetadata(t *testing.T) {
	meta, err := decodeMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)

	meta, err = decodeMetadata([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, meta)

	meta, err = decodeMetadata([]byte(`{"skin_types":["oily","all"],"concerns_targeted":["acne"],"step_type":"serum","price_range":"$$"}`))
	require.NoError(t, err)
	assert.Equal(t, &models.ProductMetadata{
		SkinTypes:        []string{"oily", "all"},
		ConcernsTargeted: []string{"acne"},
		StepType:         "serum",
		PriceRange:       "$$",
	}, meta)

	_, err = decodeMetadata([]byte(`{"skin_types":`))
	assert.Error(t, err)
}

func TestRecordScanUsage(t *testing.T) {
	db := &fakeDB{rules: []rule{{
		match: "record_scan_usage",
		cols:  []string{"daily_used", "daily_remaining"},
		rows:  [][]driver.Value{{int64(3), int64(2)}},
	}}}
	s := newFakeStore(t, db)

	u, err := s.RecordScanUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.UsageSnapshot{DailyUsed: 3, DailyRemaining: 2}, u)
	require.Len(t, db.calls, 1)
	assert.Equal(t, []driver.Value{"u1"}, db.calls[0].args)

	db.failOn = "record_scan_usage"
	_, err = s.RecordScanUsage(context.Background(), "u1")
	assert.ErrorContains(t, err, "failed to record scan usage")
}

func TestGetSkinProfile(t *testing.T) {
	cols := []string{"skin_type", "skin_concerns", "skin_goals"}
	tests := []struct {
		name    string
		rows    [][]driver.Value
		want    *models.SkinProfile
		wantErr error
	}{
		{
			name: "found",
			rows: [][]driver.Value{{"oily", []byte("{acne,redness}"), []byte("{clear}")}},
			want: &models.SkinProfile{SkinType: "oily", SkinConcerns: []string{"acne", "redness"}, SkinGoals: []string{"clear"}},
		},
		{name: "no row", wantErr: models.ErrNotFound},
		{name: "quiz not taken", rows: [][]driver.Value{{nil, nil, nil}}, wantErr: models.ErrNotFound},
		{name: "empty skin type", rows: [][]driver.Value{{"", []byte("{}"), []byte("{}")}}, wantErr: models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{rules: []rule{{match: "FROM profiles", cols: cols, rows: tt.rows}}}
			got, err := newFakeStore(t, db).GetSkinProfile(context.Background(), "u1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListProductsKeepsMalformedMetadata(t *testing.T) {
	db := &fakeDB{rules: []rule{{
		match: "FROM products",
		cols:  []string{"id", "name", "brand", "category", "affiliate_url", "metadata"},
		rows: [][]driver.Value{
			{"p1", "Gel Cleanser", "Acme", "cleanser", "https://shop/p1", []byte(`{"skin_types":["oily"],"step_type":"cleanser"}`)},
			{"p2", "Night Cream", "Acme", "moisturizer", "", []byte(`{"skin_types":`)},
			{"p3", "Toner", "Acme", "toner", "", nil},
		},
	}}}

	products, err := newFakeStore(t, db).ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, models.Product{
		ID: "p1", Name: "Gel Cleanser", Brand: "Acme", Category: "cleanser", AffiliateURL: "https://shop/p1",
		Metadata: &models.ProductMetadata{SkinTypes: []string{"oily"}, StepType: "cleanser"},
	}, products[0])
	assert.Equal(t, "p2", products[1].ID)
	assert.Nil(t, products[1].Metadata)
	assert.Nil(t, products[2].Metadata)
}

func TestReplaceRoutines(t *testing.T) {
	db := &fakeDB{}
	morning := models.Routine{Type: "morning", Name: "Morning Routine", Steps: []models.RoutineStep{
		{ProductID: "p1", StepOrder: 1, StepType: "cleanser", Instructions: "wash"},
		{ProductID: "p2", StepOrder: 2, StepType: "spf", Instructions: "apply"},
	}}
	evening := models.Routine{Type: "evening", Name: "Evening Routine"}

	ids, err := newFakeStore(t, db).ReplaceRoutines(context.Background(), "u1", morning, evening)
	require.NoError(t, err)
	require.NotNil(t, ids.MorningID)
	assert.Equal(t, "routine-1", *ids.MorningID)
	assert.Nil(t, ids.EveningID, "a routine without steps is not stored")
	assert.True(t, db.committed)

	q := db.queries()
	require.Len(t, q, 5)
	assert.Contains(t, q[0], "DELETE FROM routine_steps")
	assert.Contains(t, q[1], "DELETE FROM routines")
	assert.Contains(t, q[2], "INSERT INTO routines")
	assert.Equal(t, []driver.Value{"u1", "morning", "Morning Routine"}, db.calls[2].args)
	assert.Equal(t, []driver.Value{"routine-1", "p1", int64(1), "cleanser", "wash"}, db.calls[3].args)
	assert.Equal(t, []driver.Value{"routine-1", "p2", int64(2), "spf", "apply"}, db.calls[4].args)
}

func TestReplaceRoutinesRollsBackOnStepFailure(t *testing.T) {
	db := &fakeDB{failOn: "INSERT INTO routine_steps"}
	morning := models.Routine{Type: "morning", Name: "Morning Routine", Steps: []models.RoutineStep{
		{ProductID: "p1", StepOrder: 1, StepType: "cleanser"},
	}}

	ids, err := newFakeStore(t, db).ReplaceRoutines(context.Background(), "u1", morning, models.Routine{Type: "evening"})
	assert.ErrorContains(t, err, "failed to create morning routine step")
	assert.Equal(t, models.RoutineIDs{}, ids)
	assert.False(t, db.committed)
	assert.True(t, db.rolledBack)
}
