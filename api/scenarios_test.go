/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Reference data is loaded
	- Resolutions are created with the expected prices and progress
	- The scenario's headline behavior holds (quota, finalization)

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subsidy-engine/generic"
	"github.com/warp/subsidy-engine/store/sqlite"
	"github.com/warp/subsidy-engine/subsidy"
)

func setupTestHandler(t *testing.T) *Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewHandler(store)
}

func TestScenario_FreshCase(t *testing.T) {
	// GIVEN: Fresh case scenario
	// WHEN: Loading the scenario
	// THEN: One case with no resolutions and the full fee table
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadFreshCaseScenario(ctx))

	cases, err := h.Store.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, generic.NewYearMonth(2024, time.March), cases[0].Start)

	fees, err := h.Store.ListFeeRates(ctx)
	require.NoError(t, err)
	assert.Len(t, fees, 5)

	views, err := h.Engine.ListByCase(ctx, cases[0].ID)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestScenario_RetroactiveBacklog(t *testing.T) {
	// GIVEN: Retroactive backlog scenario
	// WHEN: Loading the scenario
	// THEN: Backlog 2023-09..2024-02 is 4*100 + 2*110, monthly item is 110
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadRetroactiveBacklogScenario(ctx))

	views, err := h.Engine.ListByCase(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)

	for _, it := range views[0].Items {
		switch it.Kind {
		case generic.KindRetroactive:
			assert.Equal(t, "620.00", it.Price.StringFixed(2))
			assert.Equal(t, 6, it.Progress)
		case generic.KindConsecutive:
			assert.Equal(t, "110.00", it.Price.StringFixed(2))
			assert.Equal(t, 1, it.Progress)
		}
	}
	assert.Equal(t, "1940.00", views[0].Total.StringFixed(2))
}

func TestScenario_NearCap(t *testing.T) {
	// GIVEN: Near cap scenario (22 of 24 assigned)
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.loadNearCapScenario(ctx))

	views, err := h.Engine.ListByCase(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)

	// WHEN: Growing the monthly item from 12 to 15 installments
	withConsecutive := func(count int) []subsidy.ItemInput {
		var items []subsidy.ItemInput
		for _, it := range views[0].Items {
			in := subsidy.ItemInput{ID: it.ID, Kind: it.Kind, Count: it.Count}
			if it.Kind == generic.KindConsecutive {
				in.Count = count
			}
			items = append(items, in)
		}
		return items
	}
	_, err = h.Engine.Update(ctx, subsidy.UpdateRequest{ID: views[0].Resolution.ID, Items: withConsecutive(15)})

	// THEN: The quota guard rejects 25 > 24
	assert.ErrorIs(t, err, generic.ErrQuotaExceeded)

	// AND: Two more installments fit
	_, err = h.Engine.Update(ctx, subsidy.UpdateRequest{ID: views[0].Resolution.ID, Items: withConsecutive(14)})
	assert.NoError(t, err)
}

func TestScenario_AboutToFinish(t *testing.T) {
	// GIVEN: About to finish scenario
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.loadAboutToFinishScenario(ctx))

	views, err := h.Engine.ListByCase(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Len(t, views[0].Items, 1)
	assert.Equal(t, 11, views[0].Items[0].Progress)
	assert.Equal(t, "110.00", views[0].Items[0].Price.StringFixed(2), "installment 11 falls in 2024-11")

	// WHEN: One advancement runs
	result, err := h.Advancer.Run(ctx, generic.NewYearMonth(2025, time.January))
	require.NoError(t, err)

	// THEN: The resolution is finalized
	assert.Equal(t, []generic.ResolutionID{views[0].Resolution.ID}, result.FinalizedResolutions)
	view, err := h.Engine.Get(ctx, views[0].Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusFinalized, view.Resolution.Status)
}

func TestLoadScenario_HTTP(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h, nil)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "near-cap"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", "")
	assert.Equal(t, "near-cap", decodeBody[ScenarioDTO](t, rec).ID)

	// Loading again resets first, so there is still a single resolution
	rec = do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "near-cap"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeBody[[]ResolutionDTO](t, do(t, router, http.MethodGet, "/api/cases/1/resolutions", ""))
	assert.Len(t, list, 1)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cases := decodeBody[[]CaseDTO](t, do(t, router, http.MethodGet, "/api/cases", ""))
	assert.Empty(t, cases)
}

func TestLoadScenario_ConcurrentRequests(t *testing.T) {
	// GIVEN: Loads, resets and reads of the current scenario racing each other
	h := setupTestHandler(t)
	router := NewRouter(h, nil)
	ids := []string{"near-cap", "about-to-finish"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			rec := do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "`+id+`"}`)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}(ids[i%2])
		go func() {
			defer wg.Done()
			rec := do(t, router, http.MethodGet, "/api/scenarios/current", "")
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	// THEN: The last load wins whole: the current scenario and the data agree
	current := decodeBody[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", ""))
	assert.Contains(t, ids, current.ID)

	list := decodeBody[[]ResolutionDTO](t, do(t, router, http.MethodGet, "/api/cases/1/resolutions", ""))
	assert.Len(t, list, 1)
}

func TestListScenarios(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h, nil)

	list := decodeBody[[]ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios", ""))
	assert.Len(t, list, len(scenarios))
}
