/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario loads a fee table,
	specifications and cases, then creates resolutions through the engine so
	prices, quotas and progress are exactly what production would produce.

AVAILABLE SCENARIOS:

	fresh-case:          One case with an empty history, ready for a first resolution
	retroactive-backlog: A case paid months of backlog plus a running monthly item
	near-cap:            A case two installments short of its specification cap
	about-to-finish:     A monthly item one advancement away from finalization

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Load the shared reference document via factory
 3. Create resolutions via the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "near-cap"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler struct
  - factory/reference.go: Reference JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/subsidy-engine/generic"
	"github.com/warp/subsidy-engine/subsidy"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-case",
		Name:        "Fresh Case",
		Description: "A case starting March 2024 with no resolutions yet",
	},
	{
		ID:          "retroactive-backlog",
		Name:        "Retroactive Backlog",
		Description: "Six months of backlog across a year boundary plus a 12-month monthly item",
	},
	{
		ID:          "near-cap",
		Name:        "Near Cap",
		Description: "22 of 24 installments assigned; the next request over 2 is rejected",
	},
	{
		ID:          "about-to-finish",
		Name:        "About To Finish",
		Description: "Monthly item at 11 of 12; the next advancement finalizes the resolution",
	},
}

// scenarioReference is the reference data every scenario starts from.
const scenarioReference = `{
	"fee_rates": [
		{"year": 2022, "amount": "95.00"},
		{"year": 2023, "amount": "100.00"},
		{"year": 2024, "amount": "110.00"},
		{"year": 2025, "amount": "120.00"},
		{"year": 2026, "amount": "130.00"}
	],
	"specifications": [
		{"id": 1, "name": "General", "installment_cap": 24},
		{"id": 2, "name": "Extended", "installment_cap": 60},
		{"id": 3, "name": "Pending review"}
	]
}`

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var loader func(context.Context) error
	switch req.ScenarioID {
	case "fresh-case":
		loader = h.loadFreshCaseScenario
	case "retroactive-backlog":
		loader = h.loadRetroactiveBacklogScenario
	case "near-cap":
		loader = h.loadNearCapScenario
	case "about-to-finish":
		loader = h.loadAboutToFinishScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := loader(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadFreshCaseScenario: one case anchored at 2024-03 on the General
// specification (cap 24). Nothing assigned yet.
func (h *Handler) loadFreshCaseScenario(ctx context.Context) error {
	_, err := h.loadReference(ctx, generic.Case{
		ID:              1,
		StartDate:       "2024-03-01",
		SpecificationID: 1,
		RNT:             "RNT-1001",
		NewCase:         true,
		PatientName:     "Lucía Fernández",
		PatientDocument: "30111222",
	})
	return err
}

// loadRetroactiveBacklogScenario: anchor 2024-03 on Extended (cap 60).
// Six retroactive installments cover 2023-09..2024-02: 4*100 + 2*110 = 620.
// The monthly item starts at 2024-03 at 110 per installment.
func (h *Handler) loadRetroactiveBacklogScenario(ctx context.Context) error {
	caseID, err := h.loadReference(ctx, generic.Case{
		ID:              1,
		StartDate:       "2024-03-01",
		SpecificationID: 2,
		RNT:             "RNT-2001",
		PatientName:     "Martín Gómez",
		PatientDocument: "28444555",
	})
	if err != nil {
		return err
	}

	_, err = h.Engine.Create(ctx, subsidy.CreateRequest{
		CaseID:      caseID,
		Date:        "2024-03-15",
		Description: "Backlog and monthly therapy",
		Status:      generic.StatusActive,
		Items: []subsidy.ItemInput{
			{Kind: generic.KindRetroactive, Count: 6},
			{Kind: generic.KindConsecutive, Count: 12},
		},
	})
	return err
}

// loadNearCapScenario: anchor 2024-01 on General (cap 24) with 10
// retroactive (all of 2023) plus 12 consecutive installments assigned.
func (h *Handler) loadNearCapScenario(ctx context.Context) error {
	caseID, err := h.loadReference(ctx, generic.Case{
		ID:              1,
		StartDate:       "2024-01-10",
		SpecificationID: 1,
		RNT:             "RNT-3001",
		PatientName:     "Sofía Ramírez",
		PatientDocument: "35666777",
	})
	if err != nil {
		return err
	}

	_, err = h.Engine.Create(ctx, subsidy.CreateRequest{
		CaseID:      caseID,
		Date:        "2024-01-20",
		Description: "Initial resolution",
		Status:      generic.StatusActive,
		Items: []subsidy.ItemInput{
			{Kind: generic.KindRetroactive, Count: 10},
			{Kind: generic.KindConsecutive, Count: 12},
		},
	})
	return err
}

// loadAboutToFinishScenario: a 12-month item declared at installment 11, so
// one advancement brings it to 12 of 12 and finalizes the resolution.
func (h *Handler) loadAboutToFinishScenario(ctx context.Context) error {
	caseID, err := h.loadReference(ctx, generic.Case{
		ID:              1,
		StartDate:       "2024-01-05",
		SpecificationID: 1,
		RNT:             "RNT-4001",
		PatientName:     "Diego Torres",
		PatientDocument: "27888999",
	})
	if err != nil {
		return err
	}

	current := 11
	_, err = h.Engine.Create(ctx, subsidy.CreateRequest{
		CaseID:      caseID,
		Date:        "2024-12-01",
		Description: "Migrated from paper file",
		Status:      generic.StatusActive,
		Items: []subsidy.ItemInput{
			{Kind: generic.KindConsecutive, Count: 12, CurrentInstallment: &current},
		},
	})
	return err
}

// loadReference applies the shared reference document and saves the case.
func (h *Handler) loadReference(ctx context.Context, c generic.Case) (generic.CaseID, error) {
	data, err := h.Reference.ParseReferenceData([]byte(scenarioReference))
	if err != nil {
		return 0, err
	}
	data.Cases = append(data.Cases, c)
	if err := h.Reference.Apply(ctx, h.Store, data); err != nil {
		return 0, err
	}
	return data.Cases[len(data.Cases)-1].ID, nil
}
