/*
handlers.go - HTTP API handlers for the subsidy engine

PURPOSE:
  Exposes the resolution engine, the monthly advancement job and the
  reference data via REST API. Handles HTTP request/response, JSON
  serialization and validation, and delegates to domain logic.

ENDPOINTS:
  Resolutions:
    POST   /api/cases/{id}/resolutions   Create resolution with items
    GET    /api/cases/{id}/resolutions   List a case's resolutions
    GET    /api/resolutions/{id}         Get resolution with items and total
    PUT    /api/resolutions/{id}         Update fields and/or items
    DELETE /api/resolutions/{id}         Delete resolution and items

  Reference data:
    GET/POST   /api/cases                List / create cases
    GET/PUT    /api/cases/{id}           Get / replace a case
    GET        /api/fee-rates            Fee table
    PUT/DELETE /api/fee-rates/{year}     Upsert / delete a year
    GET/POST   /api/specifications       List / create specifications
    GET        /api/statuses             Resolution statuses
    GET        /api/item-kinds           Item kinds

  Admin:
    POST   /api/admin/advancement        Run the monthly job for a period
    GET    /api/admin/advancement/runs   Run log
    POST   /api/admin/seed               Load a reference JSON document

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Reference data and the engine's unit of work
  - Engine: Resolution create/update/delete
  - Advancer: Monthly job
  - Reference: JSON reference-data factory

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator struct tags)
  3. Call domain logic (engine, advancer, store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, business-rule rejections (quota, fee table)
  - 404: Case, resolution or item not found
  - 409: Conflict (period already advanced, locked case anchor)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/subsidy-engine/factory"
	"github.com/warp/subsidy-engine/generic"
	"github.com/warp/subsidy-engine/store/sqlite"
	"github.com/warp/subsidy-engine/subsidy"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Engine    *subsidy.Engine
	Advancer  *subsidy.Advancer
	Reference *factory.ReferenceFactory

	validate *validator.Validate

	// scenarioMu serialises scenario loads and resets and guards currentScenario.
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:     store,
		Engine:    subsidy.NewEngine(store),
		Advancer:  subsidy.NewAdvancer(store),
		Reference: factory.NewReferenceFactory(),
		validate:  validator.New(),
	}
}

// =============================================================================
// RESOLUTION HANDLERS
// =============================================================================

// CreateResolution creates a resolution for a case.
// POST /api/cases/{id}/resolutions
func (h *Handler) CreateResolution(w http.ResponseWriter, r *http.Request) {
	caseID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CreateResolutionRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.Engine.Create(r.Context(), subsidy.CreateRequest{
		CaseID:      generic.CaseID(caseID),
		Date:        req.Date,
		Description: req.Description,
		Status:      generic.ResolutionStatus(req.StatusID),
		Items:       toItemInputs(req.Items),
	})
	if err != nil {
		writeDomainError(w, "Failed to create resolution", err)
		return
	}

	writeJSON(w, http.StatusCreated, toViewDTO(*view))
}

// ListResolutions returns every resolution of a case.
// GET /api/cases/{id}/resolutions
func (h *Handler) ListResolutions(w http.ResponseWriter, r *http.Request) {
	caseID, ok := pathID(w, r)
	if !ok {
		return
	}

	views, err := h.Engine.ListByCase(r.Context(), generic.CaseID(caseID))
	if err != nil {
		writeDomainError(w, "Failed to list resolutions", err)
		return
	}

	dtos := make([]ResolutionDTO, len(views))
	for i, v := range views {
		dtos[i] = toViewDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetResolution returns a resolution with its items and total.
// GET /api/resolutions/{id}
func (h *Handler) GetResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	view, err := h.Engine.Get(r.Context(), generic.ResolutionID(id))
	if err != nil {
		writeDomainError(w, "Failed to get resolution", err)
		return
	}

	writeJSON(w, http.StatusOK, toViewDTO(*view))
}

// UpdateResolution applies field changes and reconciles items.
// PUT /api/resolutions/{id}
func (h *Handler) UpdateResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateResolutionRequest
	if !h.decode(w, r, &req) {
		return
	}

	update := subsidy.UpdateRequest{
		ID:          generic.ResolutionID(id),
		Date:        req.Date,
		Description: req.Description,
		Items:       toItemInputs(req.Items),
	}
	if req.StatusID != nil {
		status := generic.ResolutionStatus(*req.StatusID)
		update.Status = &status
	}

	view, err := h.Engine.Update(r.Context(), update)
	if err != nil {
		writeDomainError(w, "Failed to update resolution", err)
		return
	}

	writeJSON(w, http.StatusOK, toViewDTO(*view))
}

// DeleteResolution removes a resolution and its items.
// DELETE /api/resolutions/{id}
func (h *Handler) DeleteResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	deleted, err := h.Engine.Delete(r.Context(), generic.ResolutionID(id))
	if err != nil {
		writeDomainError(w, "Failed to delete resolution", err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteResolutionResponse{Deleted: toResolutionDTO(*deleted)})
}

// =============================================================================
// CASE HANDLERS
// =============================================================================

// ListCases returns all cases.
// GET /api/cases
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.Store.ListCases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list cases", err)
		return
	}

	dtos := make([]CaseDTO, len(cases))
	for i, c := range cases {
		dtos[i] = toCaseDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCase creates a case.
// POST /api/cases
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req CaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := req.toCase(0)
	if err := h.Store.SaveCase(r.Context(), &c); err != nil {
		writeDomainError(w, "Failed to create case", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCaseDTO(c))
}

// GetCase returns a single case.
// GET /api/cases/{id}
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.Store.GetCase(r.Context(), generic.CaseID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get case", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Case not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toCaseDTO(*c))
}

// UpdateCase replaces a case's fields.
// PUT /api/cases/{id}
func (h *Handler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := req.toCase(generic.CaseID(id))
	if err := h.Store.UpdateCase(r.Context(), &c); err != nil {
		writeDomainError(w, "Failed to update case", err)
		return
	}

	writeJSON(w, http.StatusOK, toCaseDTO(c))
}

// =============================================================================
// FEE TABLE HANDLERS
// =============================================================================

// ListFeeRates returns the fee table.
// GET /api/fee-rates
func (h *Handler) ListFeeRates(w http.ResponseWriter, r *http.Request) {
	fees, err := h.Store.ListFeeRates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list fee rates", err)
		return
	}

	dtos := make([]FeeRateDTO, len(fees))
	for i, f := range fees {
		dtos[i] = FeeRateDTO{Year: f.Year, Amount: money(f.Amount)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertFeeRate sets the unit price for a year.
// PUT /api/fee-rates/{year}
func (h *Handler) UpsertFeeRate(w http.ResponseWriter, r *http.Request) {
	year, ok := pathYear(w, r)
	if !ok {
		return
	}

	var req FeeRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	fee := generic.FeeRate{Year: year, Amount: generic.RoundMoney(amount)}
	if err := h.Store.UpsertFeeRate(r.Context(), fee); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save fee rate", err)
		return
	}

	writeJSON(w, http.StatusOK, FeeRateDTO{Year: fee.Year, Amount: money(fee.Amount)})
}

// DeleteFeeRate removes a year from the fee table.
// DELETE /api/fee-rates/{year}
func (h *Handler) DeleteFeeRate(w http.ResponseWriter, r *http.Request) {
	year, ok := pathYear(w, r)
	if !ok {
		return
	}

	deleted, err := h.Store.DeleteFeeRate(r.Context(), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete fee rate", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Fee rate not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"deleted": year})
}

// =============================================================================
// SPECIFICATION AND ENUM HANDLERS
// =============================================================================

// ListSpecifications returns all specifications.
// GET /api/specifications
func (h *Handler) ListSpecifications(w http.ResponseWriter, r *http.Request) {
	specs, err := h.Store.ListSpecifications(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list specifications", err)
		return
	}

	dtos := make([]SpecificationDTO, len(specs))
	for i, sp := range specs {
		dtos[i] = SpecificationDTO{ID: int64(sp.ID), Name: sp.Name, InstallmentCap: sp.Cap}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSpecification creates a specification.
// POST /api/specifications
func (h *Handler) CreateSpecification(w http.ResponseWriter, r *http.Request) {
	var req SpecificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	sp := generic.Specification{Name: req.Name, Cap: req.InstallmentCap}
	if err := h.Store.SaveSpecification(r.Context(), &sp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create specification", err)
		return
	}

	writeJSON(w, http.StatusCreated, SpecificationDTO{ID: int64(sp.ID), Name: sp.Name, InstallmentCap: sp.Cap})
}

// ListStatuses returns the resolution statuses.
// GET /api/statuses
func (h *Handler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	dtos := make([]EnumDTO, len(generic.ResolutionStatuses))
	for i, s := range generic.ResolutionStatuses {
		dtos[i] = EnumDTO{ID: s.ID(), Name: s.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListItemKinds returns the item kinds.
// GET /api/item-kinds
func (h *Handler) ListItemKinds(w http.ResponseWriter, r *http.Request) {
	dtos := make([]EnumDTO, len(generic.ItemKinds))
	for i, k := range generic.ItemKinds {
		dtos[i] = EnumDTO{ID: k.ID(), Name: k.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerAdvancement runs the monthly job for a period.
// POST /api/admin/advancement
func (h *Handler) TriggerAdvancement(w http.ResponseWriter, r *http.Request) {
	var req AdvancementRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	period := generic.CurrentMonth()
	if req.Period != "" {
		var err error
		if period, err = generic.ParseYearMonth(req.Period); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
			return
		}
	}

	result, err := h.Advancer.Run(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Advancement failed", err)
		return
	}

	dto := AdvancementResultDTO{
		Run:                  toRunDTO(result.Run),
		AdvancedItems:        make([]int64, len(result.AdvancedItems)),
		FinalizedResolutions: make([]int64, len(result.FinalizedResolutions)),
	}
	for i, id := range result.AdvancedItems {
		dto.AdvancedItems[i] = int64(id)
	}
	for i, id := range result.FinalizedResolutions {
		dto.FinalizedResolutions[i] = int64(id)
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListAdvancementRuns returns the run log.
// GET /api/admin/advancement/runs
func (h *Handler) ListAdvancementRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListAdvancementRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list advancement runs", err)
		return
	}

	dtos := make([]AdvancementRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SeedReferenceData loads a reference JSON document.
// POST /api/admin/seed
func (h *Handler) SeedReferenceData(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	data, err := h.Reference.ParseReferenceData(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reference document", err)
		return
	}
	if err := h.Reference.Apply(r.Context(), h.Store, data); err != nil {
		writeDomainError(w, "Failed to apply reference document", err)
		return
	}

	writeJSON(w, http.StatusOK, SeedResponse{
		FeeRates:       len(data.FeeRates),
		Specifications: len(data.Specifications),
		Cases:          len(data.Cases),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine and store errors to a status and a stable code.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Code: errorCode(err), Details: err.Error()}

	var quota *generic.QuotaExceededError
	var missing *generic.MissingFeeRateError
	switch {
	case errors.As(err, &quota):
		resp.Details = map[string]any{
			"message":          err.Error(),
			"cap":              quota.Cap,
			"already_assigned": quota.AlreadyAssigned,
			"requested":        quota.Requested,
			"available":        quota.Available(),
		}
	case errors.As(err, &missing):
		resp.Details = map[string]any{
			"message": err.Error(),
			"year":    missing.Year,
		}
	}

	writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{generic.ErrCaseNotFound, "CASE_NOT_FOUND"},
	{generic.ErrResolutionNotFound, "RESOLUTION_NOT_FOUND"},
	{generic.ErrItemNotFound, "ITEM_NOT_FOUND"},
	{generic.ErrSpecificationNotFound, "SPECIFICATION_NOT_FOUND"},
	{generic.ErrMissingSpecCap, "MISSING_SPEC_CAP"},
	{generic.ErrMissingFeeRate, "MISSING_FEE_RATE"},
	{generic.ErrQuotaExceeded, "QUOTA_EXCEEDED"},
	{generic.ErrInvalidItemKind, "INVALID_ITEM_KIND"},
	{generic.ErrDuplicateItemKind, "DUPLICATE_ITEM_KIND"},
	{generic.ErrInvalidItem, "INVALID_ITEM"},
	{generic.ErrInvalidStatus, "INVALID_STATUS"},
	{generic.ErrInvalidStatusTransition, "INVALID_STATUS_TRANSITION"},
	{generic.ErrNothingToUpdate, "NOTHING_TO_UPDATE"},
	{generic.ErrPeriodAlreadyAdvanced, "PERIOD_ALREADY_ADVANCED"},
	{generic.ErrCaseAnchorLocked, "CASE_ANCHOR_LOCKED"},
	{generic.ErrTransactionFailed, "TRANSACTION_FAILURE"},
}

func errorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL"
}

// decode reads a JSON body and validates it. On failure it writes a 400 and
// returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Code:    "VALIDATION",
				Details: fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

func pathYear(w http.ResponseWriter, r *http.Request) (int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 || year > 9999 {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, false
	}
	return year, true
}
