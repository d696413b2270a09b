package auction

import (
	"context"
	"encoding/json"
	"time"
)

// Adapter is the capability contract a header-bidding wrapper registers with
// the auction orchestrator. It is a record of operations, not an interface:
// adapters arrive at runtime and validation must be able to enumerate exactly
// which required operations are missing. ClearSlot is the only optional
// operation.
//
// By convention Name matches a configured partner name; the registry resolves
// that link explicitly at registration time.
type Adapter struct {
	Name string

	// IsLibraryLoaded reports whether the wrapper's underlying library has
	// finished loading. Adapters whose library is absent are skipped with a
	// structured non-bid result.
	IsLibraryLoaded func() bool

	// Init prepares the adapter with the page-level dimension context. It is
	// invoked once, either at bulk init or as catch-up on late registration.
	Init func(pageContext map[string]string) error

	// HasSlotConfig reports whether the adapter has demand configured for the
	// given unit.
	HasSlotConfig func(unitID string, pageContext map[string]string) bool

	// RequestBids runs the adapter's bid round for a unit within the given
	// budget. The orchestrator guards the call with its own fallback timer;
	// a result arriving after that timer fires is discarded.
	RequestBids func(ctx context.Context, unitID string, pageContext map[string]string, timeout time.Duration) (*Result, error)

	// ApplyTargeting pushes the adapter's winning-bid targeting onto the
	// unit's ad-server slot. Invoked by ApplyBids, separately from bid
	// collection.
	ApplyTargeting func(unitID string)

	// ClearSlot, when present, is notified when a unit's auction state is
	// cleared.
	ClearSlot func(unitID string)
}

// validate returns the names of missing required capabilities, empty when the
// contract is satisfied.
func (a *Adapter) validate() []string {
	var missing []string
	if a.Name == "" {
		missing = append(missing, "name")
	}
	if a.IsLibraryLoaded == nil {
		missing = append(missing, "isLibraryLoaded")
	}
	if a.Init == nil {
		missing = append(missing, "init")
	}
	if a.HasSlotConfig == nil {
		missing = append(missing, "hasSlotConfig")
	}
	if a.RequestBids == nil {
		missing = append(missing, "requestBids")
	}
	if a.ApplyTargeting == nil {
		missing = append(missing, "applyTargeting")
	}
	return missing
}

// Bid is a single bidder outcome inside an adapter's Result.
type Bid struct {
	Bidder         string          `json:"bidder"`
	HasBid         bool            `json:"hasBid"`
	ResponseTimeMs int64           `json:"responseTimeMs,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// Result is the adapter's contract for one unit's bid round. This is distinct
// from the orchestrator's own per-unit bookkeeping.
type Result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Bids    []Bid  `json:"bids,omitempty"`
}

// HadBid reports whether any contained bid carried demand.
func (r *Result) HadBid() bool {
	if r == nil {
		return false
	}
	for _, bid := range r.Bids {
		if bid.HasBid {
			return true
		}
	}
	return false
}
