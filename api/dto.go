/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Resolutions:
    ResolutionDTO, ItemDTO, CreateResolutionRequest, UpdateResolutionRequest

  Reference data:
    CaseDTO, CaseRequest, FeeRateDTO, FeeRateRequest,
    SpecificationDTO, SpecificationRequest, EnumDTO

  Advancement:
    AdvancementRequest, AdvancementRunDTO, AdvancementResultDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts are serialized as decimal strings with two places ("310.00").

VALIDATION:
  Struct tags are checked with go-playground/validator before the request
  reaches the engine. Business rules (kinds, quota, fee table) stay in the
  engine and come back as typed errors.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/reference.go: Reference document types
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/subsidy-engine/generic"
	"github.com/warp/subsidy-engine/subsidy"
)

// =============================================================================
// RESOLUTIONS
// =============================================================================

// ItemRequest is one item of a resolution request.
type ItemRequest struct {
	ID                 int64 `json:"id,omitempty" validate:"gte=0"`
	KindID             int   `json:"kind_id" validate:"required"`
	InstallmentCount   int   `json:"installment_count" validate:"required,gte=1"`
	CurrentInstallment *int  `json:"current_installment,omitempty" validate:"omitempty,gte=1"`

	// Amount is accepted from older clients and ignored: prices always come
	// from the fee table.
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// CreateResolutionRequest is the request to create a resolution.
type CreateResolutionRequest struct {
	Date        string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description string        `json:"description" validate:"max=1000"`
	StatusID    int           `json:"status_id" validate:"gte=0"`
	Items       []ItemRequest `json:"items" validate:"required,min=1,max=4,dive"`
}

// UpdateResolutionRequest is the request to update a resolution. Omitted
// fields are left untouched; a present items list replaces the items.
type UpdateResolutionRequest struct {
	Date        *string       `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description *string       `json:"description" validate:"omitempty,max=1000"`
	StatusID    *int          `json:"status_id" validate:"omitempty,gte=1"`
	Items       []ItemRequest `json:"items" validate:"omitempty,max=4,dive"`
}

// ItemDTO represents a resolution item in API responses.
type ItemDTO struct {
	ID               int64  `json:"id"`
	KindID           int    `json:"kind_id"`
	Kind             string `json:"kind"`
	Price            string `json:"price"`
	InstallmentCount int    `json:"installment_count"`
	Progress         int    `json:"progress"`
	LineTotal        string `json:"line_total"`
}

// ResolutionDTO represents a resolution in API responses.
type ResolutionDTO struct {
	ID          int64     `json:"id"`
	CaseID      int64     `json:"case_id"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	StatusID    int       `json:"status_id"`
	Status      string    `json:"status"`
	Items       []ItemDTO `json:"items,omitempty"`
	Total       string    `json:"total,omitempty"`
}

// DeleteResolutionResponse confirms a deletion.
type DeleteResolutionResponse struct {
	Deleted ResolutionDTO `json:"deleted"`
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// CaseDTO represents a case in API responses.
type CaseDTO struct {
	ID              int64  `json:"id"`
	StartDate       string `json:"start_date"`
	StartPeriod     string `json:"start_period"`
	SpecificationID int64  `json:"specification_id"`
	RNT             string `json:"rnt"`
	NewCase         bool   `json:"new_case"`
	Notes           string `json:"notes"`
	PatientName     string `json:"patient_name"`
	PatientDocument string `json:"patient_document"`
}

// CaseRequest is the request to create or replace a case.
type CaseRequest struct {
	StartDate       string `json:"start_date" validate:"required,datetime=2006-01-02"`
	SpecificationID int64  `json:"specification_id" validate:"required,gt=0"`
	RNT             string `json:"rnt" validate:"max=64"`
	NewCase         bool   `json:"new_case"`
	Notes           string `json:"notes" validate:"max=2000"`
	PatientName     string `json:"patient_name" validate:"max=200"`
	PatientDocument string `json:"patient_document" validate:"max=64"`
}

// FeeRateDTO is one year of the fee table.
type FeeRateDTO struct {
	Year   int    `json:"year"`
	Amount string `json:"amount"`
}

// FeeRateRequest sets the amount for the year in the URL.
type FeeRateRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

// SpecificationDTO represents a specification in API responses.
type SpecificationDTO struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	InstallmentCap *int   `json:"installment_cap"`
}

// SpecificationRequest is the request to create a specification.
type SpecificationRequest struct {
	Name           string `json:"name" validate:"required,max=200"`
	InstallmentCap *int   `json:"installment_cap" validate:"omitempty,gte=0"`
}

// EnumDTO is an id/name pair from a closed reference table.
type EnumDTO struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// SeedResponse counts the records a reference document wrote.
type SeedResponse struct {
	FeeRates       int `json:"fee_rates"`
	Specifications int `json:"specifications"`
	Cases          int `json:"cases"`
}

// =============================================================================
// ADVANCEMENT
// =============================================================================

// AdvancementRequest triggers the monthly job. An empty period means the
// current month.
type AdvancementRequest struct {
	Period string `json:"period" validate:"omitempty,datetime=2006-01"`
}

// AdvancementRunDTO is one entry of the run log.
type AdvancementRunDTO struct {
	ID                   string `json:"id"`
	Period               string `json:"period"`
	ItemsAdvanced        int    `json:"items_advanced"`
	ResolutionsFinalized int    `json:"resolutions_finalized"`
	ExecutedAt           string `json:"executed_at"`
}

// AdvancementResultDTO is the outcome of a run.
type AdvancementResultDTO struct {
	Run                  AdvancementRunDTO `json:"run"`
	AdvancedItems        []int64           `json:"advanced_items"`
	FinalizedResolutions []int64           `json:"finalized_resolutions"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(generic.MoneyPlaces)
}

func toItemInputs(items []ItemRequest) []subsidy.ItemInput {
	if items == nil {
		return nil
	}
	out := make([]subsidy.ItemInput, len(items))
	for i, it := range items {
		out[i] = subsidy.ItemInput{
			ID:                 generic.ItemID(it.ID),
			Kind:               generic.ItemKind(it.KindID),
			Count:              it.InstallmentCount,
			CurrentInstallment: it.CurrentInstallment,
		}
	}
	return out
}

func toResolutionDTO(r generic.Resolution) ResolutionDTO {
	return ResolutionDTO{
		ID:          int64(r.ID),
		CaseID:      int64(r.CaseID),
		Date:        r.Date,
		Description: r.Description,
		StatusID:    r.Status.ID(),
		Status:      r.Status.String(),
	}
}

func toViewDTO(v subsidy.ResolutionView) ResolutionDTO {
	dto := toResolutionDTO(v.Resolution)
	dto.Items = make([]ItemDTO, len(v.Items))
	for i, it := range v.Items {
		dto.Items[i] = ItemDTO{
			ID:               int64(it.ID),
			KindID:           it.Kind.ID(),
			Kind:             it.Kind.String(),
			Price:            money(it.Price),
			InstallmentCount: it.Count,
			Progress:         it.Progress,
			LineTotal:        money(it.LineTotal()),
		}
	}
	dto.Total = money(v.Total)
	return dto
}

func toCaseDTO(c generic.Case) CaseDTO {
	return CaseDTO{
		ID:              int64(c.ID),
		StartDate:       c.StartDate,
		StartPeriod:     c.Start.String(),
		SpecificationID: int64(c.SpecificationID),
		RNT:             c.RNT,
		NewCase:         c.NewCase,
		Notes:           c.Notes,
		PatientName:     c.PatientName,
		PatientDocument: c.PatientDocument,
	}
}

func (req CaseRequest) toCase(id generic.CaseID) generic.Case {
	return generic.Case{
		ID:              id,
		StartDate:       req.StartDate,
		SpecificationID: generic.SpecificationID(req.SpecificationID),
		RNT:             req.RNT,
		NewCase:         req.NewCase,
		Notes:           req.Notes,
		PatientName:     req.PatientName,
		PatientDocument: req.PatientDocument,
	}
}

func toRunDTO(r generic.AdvancementRun) AdvancementRunDTO {
	return AdvancementRunDTO{
		ID:                   r.ID,
		Period:               r.Period.String(),
		ItemsAdvanced:        r.ItemsAdvanced,
		ResolutionsFinalized: r.ResolutionsFinalized,
		ExecutedAt:           r.ExecutedAt,
	}
}
