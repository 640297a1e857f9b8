// Package store holds the authoritative table of positions. Every mutation
// goes through a state guard, and callers only ever see copies.
package store

import (
	"sync"
	"time"

	"snipebot/internal/models"
)

var allowed = map[models.PositionState]map[models.PositionState]bool{
	models.PositionOpen: {
		models.PositionExiting: true,
		models.PositionFailed:  true,
	},
	models.PositionExiting: {
		models.PositionClosed: true,
		models.PositionOpen:   true,
		models.PositionFailed: true,
	},
}

func CanTransition(from, to models.PositionState) bool {
	return allowed[from][to]
}

// ClosePatch carries the exit fill applied on EXITING -> CLOSED.
type ClosePatch struct {
	ExitPrice float64
	Proceeds  float64
	TxRef     string
	ClosedAt  time.Time
}

type Exposure struct {
	Count   int
	Capital float64
}

type Store struct {
	mu     sync.RWMutex
	byID   map[string]*models.Position
	order  []string
	active map[string]string // mint|wallet -> id
}

func New() *Store {
	return &Store{
		byID:   make(map[string]*models.Position),
		active: make(map[string]string),
	}
}

func activeKey(mint, wallet string) string {
	return mint + "|" + wallet
}

func (s *Store) Insert(p models.Position) error {
	if p.ID == "" || p.Mint == "" {
		return errInvalidInput
	}
	if p.State == "" {
		p.State = models.PositionOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[p.ID]; exists {
		return &DuplicateError{Mint: p.Mint, Wallet: p.Wallet, ExistingID: p.ID}
	}
	key := activeKey(p.Mint, p.Wallet)
	if id, exists := s.active[key]; exists {
		return &DuplicateError{Mint: p.Mint, Wallet: p.Wallet, ExistingID: id}
	}

	cp := p
	s.byID[p.ID] = &cp
	s.order = append(s.order, p.ID)
	if p.State.Active() {
		s.active[key] = p.ID
	}
	return nil
}

func (s *Store) Get(id string) (models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return models.Position{}, ErrNotFound
	}
	return *p, nil
}

// ListOpen returns OPEN and EXITING positions in insertion order.
func (s *Store) ListOpen() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.active))
	for _, id := range s.order {
		if p := s.byID[id]; p.State.Active() {
			out = append(out, *p)
		}
	}
	return out
}

func (s *Store) List() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Transition moves id from -> to and applies mutate to the stored copy in
// the same critical section. mutate may be nil and must not block.
func (s *Store) Transition(id string, from, to models.PositionState, mutate func(*models.Position)) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return models.Position{}, ErrNotFound
	}
	if p.State != from || !CanTransition(from, to) {
		return *p, &InvalidTransitionError{ID: id, From: from, To: to, Current: p.State}
	}

	next := *p
	if mutate != nil {
		mutate(&next)
	}
	next.ID = p.ID
	next.Mint = p.Mint
	next.Wallet = p.Wallet
	next.State = to
	*p = next

	if !to.Active() {
		delete(s.active, activeKey(p.Mint, p.Wallet))
	}
	return *p, nil
}

// Update applies a same-state mutation, guarded by the expected state.
func (s *Store) Update(id string, expect models.PositionState, mutate func(*models.Position)) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return models.Position{}, ErrNotFound
	}
	if p.State != expect {
		return *p, &InvalidTransitionError{ID: id, From: expect, To: expect, Current: p.State}
	}

	next := *p
	mutate(&next)
	next.ID = p.ID
	next.Mint = p.Mint
	next.Wallet = p.Wallet
	next.State = p.State
	*p = next
	return *p, nil
}

func (s *Store) Close(id string, patch ClosePatch) (models.Position, error) {
	return s.Transition(id, models.PositionExiting, models.PositionClosed, func(p *models.Position) {
		p.ExitPrice = patch.ExitPrice
		p.Proceeds += patch.Proceeds
		if patch.TxRef != "" {
			p.SellTxRef = patch.TxRef
		}
		p.ClosedAt = patch.ClosedAt
		p.LastError = ""
	})
}

func (s *Store) HasActive(mint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.active {
		if s.byID[id].Mint == mint {
			return true
		}
	}
	return false
}

func (s *Store) Exposure() Exposure {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e Exposure
	for _, id := range s.active {
		e.Count++
		e.Capital += s.byID[id].CostBasis
	}
	return e
}
