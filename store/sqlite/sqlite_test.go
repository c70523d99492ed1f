package sqlite

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subsidy-engine/factory"
	"github.com/warp/subsidy-engine/generic"
	"github.com/warp/subsidy-engine/subsidy"
)

// =============================================================================
// FIXTURE
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seed creates a cap-12 specification, a case anchored at February 2024 and
// fees for 2023..2025.
func seed(t *testing.T, store *Store) generic.CaseID {
	t.Helper()
	ctx := context.Background()

	limit := 12
	spec := &generic.Specification{Name: "General", Cap: &limit}
	require.NoError(t, store.SaveSpecification(ctx, spec))

	c := &generic.Case{StartDate: "2024-02-15", SpecificationID: spec.ID, PatientName: "Test Patient"}
	require.NoError(t, store.SaveCase(ctx, c))

	for year, fee := range map[int]int64{2023: 100, 2024: 110, 2025: 120} {
		require.NoError(t, store.UpsertFeeRate(ctx, generic.FeeRate{Year: year, Amount: decimal.NewFromInt(fee)}))
	}
	return c.ID
}

func countItems(t *testing.T, store *Store) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM resolution_items").Scan(&n))
	return n
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestFeeRates_UpsertListDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFeeRate(ctx, generic.FeeRate{Year: 2024, Amount: decimal.RequireFromString("110.456")}))
	require.NoError(t, store.UpsertFeeRate(ctx, generic.FeeRate{Year: 2023, Amount: decimal.NewFromInt(100)}))
	require.NoError(t, store.UpsertFeeRate(ctx, generic.FeeRate{Year: 2024, Amount: decimal.NewFromInt(115)}))

	fees, err := store.ListFeeRates(ctx)
	require.NoError(t, err)
	require.Len(t, fees, 2)
	assert.Equal(t, 2023, fees[0].Year)
	assert.True(t, decimal.NewFromInt(115).Equal(fees[1].Amount))

	deleted, err := store.DeleteFeeRate(ctx, 2023)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.FeeForYear(ctx, 2023)
	var missing *generic.MissingFeeRateError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 2023, missing.Year)
}

func TestFeeRates_RoundedToCents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFeeRate(ctx, generic.FeeRate{Year: 2024, Amount: decimal.RequireFromString("110.456")}))

	fee, err := store.FeeForYear(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, "110.46", fee.StringFixed(2))
}

func TestCases_SaveGetList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)

	c, err := store.GetCase(ctx, caseID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, generic.NewYearMonth(2024, time.February), c.Start)
	assert.Equal(t, "Test Patient", c.PatientName)

	missing, err := store.GetCase(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	cases, err := store.ListCases(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, 1)
}

func TestCases_UnknownSpecification(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveCase(context.Background(), &generic.Case{StartDate: "2024-01-01", SpecificationID: 42})

	assert.ErrorIs(t, err, generic.ErrSpecificationNotFound)
}

func TestCases_InvalidStartDate(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveCase(context.Background(), &generic.Case{StartDate: "someday", SpecificationID: 1})

	assert.Error(t, err)
}

func TestSpecifications_NullCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	spec := &generic.Specification{Name: "Open"}
	require.NoError(t, store.SaveSpecification(ctx, spec))

	got, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Cap)

	c := &generic.Case{StartDate: "2024-01-01", SpecificationID: spec.ID}
	require.NoError(t, store.SaveCase(ctx, c))

	err = store.WithTx(ctx, func(s generic.Session) error {
		_, err := s.SpecificationCap(ctx, c.ID)
		return err
	})
	assert.ErrorIs(t, err, generic.ErrMissingSpecCap)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_CreateUpdateDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)
	engine := subsidy.NewEngine(store)

	// GIVEN: a resolution with a retroactive and a consecutive item
	view, err := engine.Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Date:   "2024-03-01",
		Items: []subsidy.ItemInput{
			{Kind: generic.KindRetroactive, Count: 3},
			{Kind: generic.KindConsecutive, Count: 6},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "970.00", view.Total.StringFixed(2))
	require.Len(t, view.Items, 2)

	// WHEN: the update keeps only the consecutive item
	var consecutiveID generic.ItemID
	for _, it := range view.Items {
		if it.Kind == generic.KindConsecutive {
			consecutiveID = it.ID
		}
	}
	updated, err := engine.Update(ctx, subsidy.UpdateRequest{
		ID:    view.Resolution.ID,
		Items: []subsidy.ItemInput{{ID: consecutiveID, Kind: generic.KindConsecutive, Count: 4}},
	})
	require.NoError(t, err)

	// THEN: the retroactive item is gone
	require.Len(t, updated.Items, 1)
	assert.Equal(t, consecutiveID, updated.Items[0].ID)
	assert.Equal(t, "440.00", updated.Total.StringFixed(2))
	assert.Equal(t, 1, countItems(t, store))

	// AND: delete leaves no orphan items
	_, err = engine.Delete(ctx, view.Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, countItems(t, store))
}

func TestEngine_FailedCreateRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)
	engine := subsidy.NewEngine(store)

	_, err := engine.Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindRetroactive, Count: 10}, {Kind: generic.KindConsecutive, Count: 1}},
	})
	require.NoError(t, err)

	// 30 months back from February 2024 reaches 2021, which has no fee
	_, err = engine.Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindRetroactive, Count: 30}},
	})
	require.ErrorIs(t, err, generic.ErrMissingFeeRate)

	views, err := engine.ListByCase(ctx, caseID)
	require.NoError(t, err)
	assert.Len(t, views, 1, "the failed resolution row was rolled back")
	assert.Equal(t, 2, countItems(t, store))
}

func TestEngine_QuotaOnFirstResolution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)

	_, err := subsidy.NewEngine(store).Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindConsecutive, Count: 13}},
	})

	var exceeded *generic.QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 12, exceeded.Cap)
}

// =============================================================================
// ADVANCEMENT
// =============================================================================

func TestAdvancement_PeriodStampAndFinalization(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)
	engine := subsidy.NewEngine(store)
	advancer := subsidy.NewAdvancer(store)

	view, err := engine.Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindConsecutive, Count: 2}},
	})
	require.NoError(t, err)

	result, err := advancer.Run(ctx, generic.NewYearMonth(2024, time.March))
	require.NoError(t, err)
	assert.Equal(t, []generic.ResolutionID{view.Resolution.ID}, result.FinalizedResolutions)

	_, err = advancer.Run(ctx, generic.NewYearMonth(2024, time.March))
	assert.ErrorIs(t, err, generic.ErrPeriodAlreadyAdvanced)

	runs, err := store.ListAdvancementRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].ItemsAdvanced)
	assert.Equal(t, 1, runs[0].ResolutionsFinalized)

	got, err := engine.Get(ctx, view.Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusFinalized, got.Resolution.Status)
	assert.Equal(t, 2, got.Items[0].Progress)
}

func TestAdvancement_SkipsSuspended(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)

	view, err := subsidy.NewEngine(store).Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Status: generic.StatusSuspended,
		Items:  []subsidy.ItemInput{{Kind: generic.KindConsecutive, Count: 3}},
	})
	require.NoError(t, err)

	result, err := subsidy.NewAdvancer(store).Run(ctx, generic.NewYearMonth(2024, time.March))
	require.NoError(t, err)

	assert.Empty(t, result.AdvancedItems)
	var progress int
	require.NoError(t, store.db.QueryRow("SELECT progress FROM resolution_items WHERE resolution_id = ?",
		view.Resolution.ID).Scan(&progress))
	assert.Equal(t, 1, progress)
}

// =============================================================================
// CASE ANCHOR LOCK
// =============================================================================

func TestUpdateCase_AnchorLockedByConsecutiveItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)

	_, err := subsidy.NewEngine(store).Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindConsecutive, Count: 3}},
	})
	require.NoError(t, err)

	c, err := store.GetCase(ctx, caseID)
	require.NoError(t, err)

	// Same month, different day: allowed
	c.StartDate = "2024-02-01"
	c.Notes = "corrected day"
	require.NoError(t, store.UpdateCase(ctx, c))

	// Different month: locked
	c.StartDate = "2024-05-01"
	err = store.UpdateCase(ctx, c)
	assert.ErrorIs(t, err, generic.ErrCaseAnchorLocked)
	assert.True(t, generic.IsConflict(err))

	stored, err := store.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", stored.StartDate)
	assert.Equal(t, "corrected day", stored.Notes)
}

func TestUpdateCase_FreeWithoutConsecutiveItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)

	c, err := store.GetCase(ctx, caseID)
	require.NoError(t, err)
	c.StartDate = "2024-06-01"

	require.NoError(t, store.UpdateCase(ctx, c))
	assert.Equal(t, generic.NewYearMonth(2024, time.June), c.Start)

	err = store.UpdateCase(ctx, &generic.Case{ID: 404, StartDate: "2024-01-01", SpecificationID: c.SpecificationID})
	assert.ErrorIs(t, err, generic.ErrCaseNotFound)
}

func TestSaveCase_ReplaceHonorsAnchorLock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)

	_, err := subsidy.NewEngine(store).Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindConsecutive, Count: 6}},
	})
	require.NoError(t, err)

	c, err := store.GetCase(ctx, caseID)
	require.NoError(t, err)

	// GIVEN: a case with a consecutive item
	// WHEN: the replacing save moves the start month
	moved := *c
	moved.StartDate = "2025-08-01"
	err = store.SaveCase(ctx, &moved)

	// THEN: it is rejected and the anchor stays put
	assert.ErrorIs(t, err, generic.ErrCaseAnchorLocked)
	stored, err := store.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, generic.NewYearMonth(2024, time.February), stored.Start)

	// AND: replacing other fields within the same month still works
	c.Notes = "re-seeded"
	require.NoError(t, store.SaveCase(ctx, c))
}

func TestReferenceApply_IsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)

	_, err := subsidy.NewEngine(store).Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindConsecutive, Count: 6}},
	})
	require.NoError(t, err)

	f := factory.NewReferenceFactory()
	data, err := f.ParseReferenceData([]byte(`{
		"fee_rates": [{"year": 2030, "amount": "200.00"}],
		"specifications": [{"id": 7, "name": "Late"}],
		"cases": [{"id": ` + itoa(int64(caseID)) + `, "start_date": "2025-08-01", "specification_id": 7}]
	}`))
	require.NoError(t, err)

	// WHEN: the last record of the document is rejected
	err = f.Apply(ctx, store, data)
	assert.ErrorIs(t, err, generic.ErrCaseAnchorLocked)

	// THEN: nothing from the document was written
	_, err = store.FeeForYear(ctx, 2030)
	var missing *generic.MissingFeeRateError
	assert.ErrorAs(t, err, &missing)

	sp, err := store.GetSpecification(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, sp)

	stored, err := store.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-15", stored.StartDate)
}

// =============================================================================
// STORED AMOUNTS
// =============================================================================

func TestCorruptStoredFee_IsAnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)

	_, err := store.db.Exec("UPDATE fee_rates SET amount = 'abc' WHERE year = 2024")
	require.NoError(t, err)

	_, err = store.FeeForYear(ctx, 2024)
	assert.Error(t, err)

	_, err = store.ListFeeRates(ctx)
	assert.Error(t, err)

	// Pricing never falls back to a zero fee
	_, err = subsidy.NewEngine(store).Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindConsecutive, Count: 3}},
	})
	require.Error(t, err)
	assert.Equal(t, 0, countItems(t, store))
}

func TestCorruptStoredItemPrice_IsAnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := seed(t, store)
	engine := subsidy.NewEngine(store)

	view, err := engine.Create(ctx, subsidy.CreateRequest{
		CaseID: caseID,
		Items:  []subsidy.ItemInput{{Kind: generic.KindConsecutive, Count: 3}},
	})
	require.NoError(t, err)

	_, err = store.db.Exec("UPDATE resolution_items SET price = 'n/a'")
	require.NoError(t, err)

	_, err = engine.Get(ctx, view.Resolution.ID)
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store)

	require.NoError(t, store.Reset(ctx))

	cases, err := store.ListCases(ctx)
	require.NoError(t, err)
	assert.Empty(t, cases)
	fees, err := store.ListFeeRates(ctx)
	require.NoError(t, err)
	assert.Empty(t, fees)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
