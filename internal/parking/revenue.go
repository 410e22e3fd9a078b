package parking

import "time"

type Revenue struct {
	Since time.Time `json:"since"`
	Total float64   `json:"total"`
	Count int       `json:"count"`
}

// RevenueAggregator is a read-only view over the ledger's closed sessions.
type RevenueAggregator struct {
	ledger *Ledger
}

func NewRevenueAggregator(ledger *Ledger) *RevenueAggregator {
	return &RevenueAggregator{ledger: ledger}
}

// Since sums fees of sessions that closed at or after ts.
func (r *RevenueAggregator) Since(ts time.Time) Revenue {
	rev := Revenue{Since: ts}
	if r == nil || r.ledger == nil {
		return rev
	}
	r.ledger.eachClosedSince(ts, func(s Session) {
		rev.Total += s.Fee
		rev.Count++
	})
	return rev
}

// Today sums fees since local midnight of now.
func (r *RevenueAggregator) Today(now time.Time) Revenue {
	return r.Since(StartOfDay(now))
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
