package matcher

import (
	"fmt"
	"time"

	"receipt-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// Pool is the set of ledger entries still open for assignment during one
// run. Entries leave the pool when assigned and never come back.
type Pool struct {
	// entries holds every ledger entry in ledger order
	entries []*models.LedgerEntry

	// amountIndex maps an amount key to entry positions, in ledger order
	amountIndex map[string][]int

	// position maps an entry to its index in entries
	position map[*models.LedgerEntry]int

	// excluded marks positions that have been assigned
	excluded map[int]bool
}

// PoolStats describes the pool at a point in time
type PoolStats struct {
	TotalEntries    int
	Remaining       int
	Assigned        int
	DistinctAmounts int
}

// NewPool indexes entries. Entries that are already checked start excluded.
func NewPool(entries []*models.LedgerEntry) *Pool {
	pool := &Pool{
		entries:     entries,
		amountIndex: make(map[string][]int),
		position:    make(map[*models.LedgerEntry]int, len(entries)),
		excluded:    make(map[int]bool),
	}

	for i, entry := range entries {
		key := amountKey(entry.Amount)
		pool.amountIndex[key] = append(pool.amountIndex[key], i)
		pool.position[entry] = i
		if entry.Checked {
			pool.excluded[i] = true
		}
	}

	return pool
}

// amountKey normalizes trailing zeros so 12.5 and 12.50 share a key
func amountKey(amount decimal.Decimal) string {
	return amount.String()
}

// ByAmount returns the remaining entries whose amount equals amount, in
// ledger order
func (p *Pool) ByAmount(amount decimal.Decimal) []*models.LedgerEntry {
	var result []*models.LedgerEntry
	for _, i := range p.amountIndex[amountKey(amount)] {
		if p.excluded[i] {
			continue
		}
		if entry := p.entries[i]; entry.Amount.Equal(amount) {
			result = append(result, entry)
		}
	}
	return result
}

// Contains reports whether entry is still open
func (p *Pool) Contains(entry *models.LedgerEntry) bool {
	i, ok := p.position[entry]
	return ok && !p.excluded[i]
}

// Assign records the assignment on entry and removes it from the pool
func (p *Pool) Assign(entry *models.LedgerEntry, receiptID string, matchType models.MatchType, score float64) error {
	i, ok := p.position[entry]
	if !ok {
		return fmt.Errorf("ledger entry %d is not part of this pool", entry.Row)
	}
	if p.excluded[i] {
		return fmt.Errorf("ledger entry %d was already assigned", entry.Row)
	}

	if err := entry.Assign(receiptID, matchType, score); err != nil {
		return err
	}
	p.excluded[i] = true
	return nil
}

// Remaining returns the number of open entries
func (p *Pool) Remaining() int {
	return len(p.entries) - len(p.excluded)
}

// Unassigned returns the open entries in ledger order
func (p *Pool) Unassigned() []*models.LedgerEntry {
	result := make([]*models.LedgerEntry, 0, p.Remaining())
	for i, entry := range p.entries {
		if !p.excluded[i] {
			result = append(result, entry)
		}
	}
	return result
}

// Stats returns statistics about the pool
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TotalEntries:    len(p.entries),
		Remaining:       p.Remaining(),
		Assigned:        len(p.excluded),
		DistinctAmounts: len(p.amountIndex),
	}
}

// sameDay keeps the candidates posted on date
func sameDay(candidates []*models.LedgerEntry, date time.Time) []*models.LedgerEntry {
	var result []*models.LedgerEntry
	for _, entry := range candidates {
		if models.SameDay(entry.Date, date) {
			result = append(result, entry)
		}
	}
	return result
}

// withinWindow keeps the candidates posted no later than toleranceDays after
// date. Earlier postings are kept too.
func withinWindow(candidates []*models.LedgerEntry, date time.Time, toleranceDays int) []*models.LedgerEntry {
	var result []*models.LedgerEntry
	for _, entry := range candidates {
		if models.WithinForwardWindow(entry.Date, date, toleranceDays) {
			result = append(result, entry)
		}
	}
	return result
}
