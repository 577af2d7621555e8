package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the canonical portfolio state of one simulation session.
// It exclusively owns its holdings, positions and history; all mutation goes
// through the execution engine.
type Account struct {
	ID             string                      // Unique session identifier
	CreatedAt      time.Time                   // Session start time
	InitialCapital decimal.Decimal             // Capital the session started with
	Cash           decimal.Decimal             // Free cash, never negative
	Status         AccountStatus               // active or finished
	Spot           map[string]*SpotHolding     // Spot holdings keyed by asset
	Futures        map[string]*FuturesPosition // Open futures positions keyed by asset
	History        []*OperationRecord          // Append-only operation log
}

// NewAccount creates an active account funded with the given capital.
func NewAccount(id string, initialCapital decimal.Decimal, now time.Time) *Account {
	return &Account{
		ID:             id,
		CreatedAt:      now,
		InitialCapital: initialCapital,
		Cash:           initialCapital,
		Status:         StatusActive,
		Spot:           make(map[string]*SpotHolding),
		Futures:        make(map[string]*FuturesPosition),
	}
}

// IsActive reports whether the session still accepts instructions.
func (a *Account) IsActive() bool { return a.Status == StatusActive }

// MarginUsed returns the total collateral locked in open positions.
func (a *Account) MarginUsed() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.Futures {
		total = total.Add(p.Margin)
	}
	return total
}

// Assets returns the identifiers of every asset the account is exposed to,
// spot and futures combined, without duplicates.
func (a *Account) Assets() []string {
	seen := make(map[string]bool, len(a.Spot)+len(a.Futures))
	out := make([]string, 0, len(a.Spot)+len(a.Futures))
	for asset := range a.Spot {
		if !seen[asset] {
			seen[asset] = true
			out = append(out, asset)
		}
	}
	for asset := range a.Futures {
		if !seen[asset] {
			seen[asset] = true
			out = append(out, asset)
		}
	}
	return out
}

// Clone returns a deep copy of the account. The execution engine applies
// batches against a clone and swaps it in only when the whole batch succeeds.
func (a *Account) Clone() *Account {
	cp := &Account{
		ID:             a.ID,
		CreatedAt:      a.CreatedAt,
		InitialCapital: a.InitialCapital,
		Cash:           a.Cash,
		Status:         a.Status,
		Spot:           make(map[string]*SpotHolding, len(a.Spot)),
		Futures:        make(map[string]*FuturesPosition, len(a.Futures)),
		History:        make([]*OperationRecord, len(a.History)),
	}
	for asset, h := range a.Spot {
		cp.Spot[asset] = h.Clone()
	}
	for asset, p := range a.Futures {
		cp.Futures[asset] = p.Clone()
	}
	copy(cp.History, a.History)
	return cp
}
