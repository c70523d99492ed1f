// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/subsidy-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps. WithTx works on a copy of the state and
// swaps it in on success, so a failed unit of work leaves nothing behind.
type Memory struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	cases       map[generic.CaseID]generic.Case
	specs       map[generic.SpecificationID]generic.Specification
	fees        map[int]decimal.Decimal
	resolutions map[generic.ResolutionID]generic.Resolution
	items       map[generic.ItemID]generic.Item
	runs        map[generic.YearMonth]generic.AdvancementRun

	nextResolution generic.ResolutionID
	nextItem       generic.ItemID
}

func NewMemory() *Memory {
	return &Memory{state: &state{
		cases:       make(map[generic.CaseID]generic.Case),
		specs:       make(map[generic.SpecificationID]generic.Specification),
		fees:        make(map[int]decimal.Decimal),
		resolutions: make(map[generic.ResolutionID]generic.Resolution),
		items:       make(map[generic.ItemID]generic.Item),
		runs:        make(map[generic.YearMonth]generic.AdvancementRun),
	}}
}

func (s *state) clone() *state {
	c := &state{
		cases:          make(map[generic.CaseID]generic.Case, len(s.cases)),
		specs:          make(map[generic.SpecificationID]generic.Specification, len(s.specs)),
		fees:           make(map[int]decimal.Decimal, len(s.fees)),
		resolutions:    make(map[generic.ResolutionID]generic.Resolution, len(s.resolutions)),
		items:          make(map[generic.ItemID]generic.Item, len(s.items)),
		runs:           make(map[generic.YearMonth]generic.AdvancementRun, len(s.runs)),
		nextResolution: s.nextResolution,
		nextItem:       s.nextItem,
	}
	for k, v := range s.cases {
		c.cases[k] = v
	}
	for k, v := range s.specs {
		c.specs[k] = v
	}
	for k, v := range s.fees {
		c.fees[k] = v
	}
	for k, v := range s.resolutions {
		c.resolutions[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

// WithTx runs fn against a private copy of the state.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&session{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// =============================================================================
// REFERENCE DATA - Test fixtures
// =============================================================================

func (m *Memory) PutCase(c generic.Case) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.cases[c.ID] = c
}

func (m *Memory) PutSpecification(sp generic.Specification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.specs[sp.ID] = sp
}

func (m *Memory) PutFeeRate(year int, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.fees[year] = amount
}

// Items returns a snapshot of every stored item, ordered by id.
func (m *Memory) Items() []generic.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedItems(m.state.items, func(generic.Item) bool { return true })
}

// Resolution returns a stored resolution, or nil.
func (m *Memory) Resolution(id generic.ResolutionID) *generic.Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.state.resolutions[id]; ok {
		return &r
	}
	return nil
}

// =============================================================================
// SESSION
// =============================================================================

type session struct {
	s *state
}

var _ generic.Session = (*session)(nil)

func (ss *session) FeeForYear(_ context.Context, year int) (decimal.Decimal, error) {
	fee, ok := ss.s.fees[year]
	if !ok {
		return decimal.Zero, &generic.MissingFeeRateError{Year: year}
	}
	return fee, nil
}

func (ss *session) CaseAnchor(_ context.Context, caseID generic.CaseID) (generic.YearMonth, error) {
	c, ok := ss.s.cases[caseID]
	if !ok {
		return generic.YearMonth{}, generic.ErrCaseNotFound
	}
	return c.Start, nil
}

func (ss *session) SpecificationCap(_ context.Context, caseID generic.CaseID) (int, error) {
	c, ok := ss.s.cases[caseID]
	if !ok {
		return 0, generic.ErrCaseNotFound
	}
	sp, ok := ss.s.specs[c.SpecificationID]
	if !ok || sp.Cap == nil {
		return 0, generic.ErrMissingSpecCap
	}
	return *sp.Cap, nil
}

func (ss *session) InstallmentSum(_ context.Context, caseID generic.CaseID, excluding generic.ResolutionID) (int, error) {
	sum := 0
	for _, it := range ss.s.items {
		r := ss.s.resolutions[it.ResolutionID]
		if r.CaseID != caseID || r.ID == excluding {
			continue
		}
		sum += it.Count
	}
	return sum, nil
}

func (ss *session) CountResolutions(_ context.Context, caseID generic.CaseID) (int, error) {
	n := 0
	for _, r := range ss.s.resolutions {
		if r.CaseID == caseID {
			n++
		}
	}
	return n, nil
}

func (ss *session) InsertResolution(_ context.Context, r *generic.Resolution) error {
	ss.s.nextResolution++
	r.ID = ss.s.nextResolution
	ss.s.resolutions[r.ID] = *r
	return nil
}

func (ss *session) UpdateResolution(_ context.Context, r generic.Resolution) error {
	if _, ok := ss.s.resolutions[r.ID]; !ok {
		return generic.ErrResolutionNotFound
	}
	ss.s.resolutions[r.ID] = r
	return nil
}

func (ss *session) GetResolution(_ context.Context, id generic.ResolutionID) (*generic.Resolution, error) {
	r, ok := ss.s.resolutions[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (ss *session) ListResolutions(_ context.Context, caseID generic.CaseID) ([]generic.Resolution, error) {
	var out []generic.Resolution
	for _, r := range ss.s.resolutions {
		if r.CaseID == caseID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (ss *session) DeleteResolution(_ context.Context, id generic.ResolutionID) (bool, error) {
	if _, ok := ss.s.resolutions[id]; !ok {
		return false, nil
	}
	for itemID, it := range ss.s.items {
		if it.ResolutionID == id {
			delete(ss.s.items, itemID)
		}
	}
	delete(ss.s.resolutions, id)
	return true, nil
}

func (ss *session) SetResolutionStatus(_ context.Context, id generic.ResolutionID, status generic.ResolutionStatus) (bool, error) {
	r, ok := ss.s.resolutions[id]
	if !ok || r.Status == status {
		return false, nil
	}
	r.Status = status
	ss.s.resolutions[id] = r
	return true, nil
}

func (ss *session) ListItems(_ context.Context, resolutionID generic.ResolutionID) ([]generic.Item, error) {
	return sortedItems(ss.s.items, func(it generic.Item) bool {
		return it.ResolutionID == resolutionID
	}), nil
}

func (ss *session) InsertItem(_ context.Context, it *generic.Item) error {
	ss.s.nextItem++
	it.ID = ss.s.nextItem
	ss.s.items[it.ID] = *it
	return nil
}

func (ss *session) UpdateItem(_ context.Context, it generic.Item) (bool, error) {
	existing, ok := ss.s.items[it.ID]
	if !ok || existing.ResolutionID != it.ResolutionID {
		return false, nil
	}
	ss.s.items[it.ID] = it
	return true, nil
}

func (ss *session) DeleteItemsExcept(_ context.Context, resolutionID generic.ResolutionID, keep []generic.ItemID) (int, error) {
	kept := make(map[generic.ItemID]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	n := 0
	for id, it := range ss.s.items {
		if it.ResolutionID == resolutionID && !kept[id] {
			delete(ss.s.items, id)
			n++
		}
	}
	return n, nil
}

func (ss *session) ListAdvanceableItems(_ context.Context) ([]generic.Item, error) {
	out := sortedItems(ss.s.items, func(it generic.Item) bool {
		r, ok := ss.s.resolutions[it.ResolutionID]
		return ok && it.Kind == generic.KindConsecutive &&
			it.Progress < it.Count && r.Status != generic.StatusSuspended
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ResolutionID < out[j].ResolutionID })
	return out, nil
}

func (ss *session) SetItemProgress(_ context.Context, id generic.ItemID, progress int) error {
	it, ok := ss.s.items[id]
	if !ok {
		return generic.ErrItemNotFound
	}
	it.Progress = progress
	ss.s.items[id] = it
	return nil
}

func (ss *session) RecordAdvancementRun(_ context.Context, run generic.AdvancementRun) error {
	if _, ok := ss.s.runs[run.Period]; ok {
		return generic.ErrPeriodAlreadyAdvanced
	}
	ss.s.runs[run.Period] = run
	return nil
}

func sortedItems(items map[generic.ItemID]generic.Item, keep func(generic.Item) bool) []generic.Item {
	var out []generic.Item
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
