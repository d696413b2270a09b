package auction

import (
	"time"
)

// WrapperStatus is the per-unit, per-adapter auction state. The string values
// mirror the wire contract: "true"/"false" are the had-bid/no-bid outcomes.
type WrapperStatus string

const (
	WrapperOff     WrapperStatus = "off"
	WrapperPending WrapperStatus = "pending"
	WrapperHadBid  WrapperStatus = "true"
	WrapperNoBid   WrapperStatus = "false"
)

// BidderTiming records one bidder's response time, raw and formatted.
type BidderTiming struct {
	RawMs     int64  `json:"raw"`
	Formatted string `json:"formatted"`
}

// unitState is the orchestrator's live bookkeeping for one display unit.
// startTime and timeout are stamped by the first adapter to start and shared
// by every wrapper bidding on the unit, so relative timing is comparable.
type unitState struct {
	statuses     map[string]WrapperStatus
	startTime    time.Time
	timeout      time.Duration
	startSet     bool
	bidderTiming map[string]BidderTiming
	bids         []Bid
	tokens       map[string]*fallbackToken
}

func newUnitState() *unitState {
	return &unitState{
		statuses:     make(map[string]WrapperStatus),
		bidderTiming: make(map[string]BidderTiming),
		tokens:       make(map[string]*fallbackToken),
	}
}

func (st *unitState) snapshot(unitID string) UnitSnapshot {
	statuses := make(map[string]WrapperStatus, len(st.statuses))
	for name, status := range st.statuses {
		statuses[name] = status
	}
	timing := make(map[string]BidderTiming, len(st.bidderTiming))
	for name, bt := range st.bidderTiming {
		timing[name] = bt
	}
	bids := make([]Bid, len(st.bids))
	copy(bids, st.bids)
	return UnitSnapshot{
		UnitID:       unitID,
		Statuses:     statuses,
		StartTime:    st.startTime,
		TimeoutMs:    st.timeout.Milliseconds(),
		BidderTiming: timing,
		Bids:         bids,
	}
}

// UnitSnapshot is a point-in-time copy of a unit's auction state.
type UnitSnapshot struct {
	UnitID       string                   `json:"unitId"`
	Statuses     map[string]WrapperStatus `json:"statuses"`
	StartTime    time.Time                `json:"startTime"`
	TimeoutMs    int64                    `json:"timeoutMs"`
	BidderTiming map[string]BidderTiming  `json:"bidderTiming"`
	Bids         []Bid                    `json:"bids"`
}

// ArchiveEntry is one cleared unit state, kept for history/debugging.
type ArchiveEntry struct {
	ID        string       `json:"id"`
	ClearedAt time.Time    `json:"clearedAt"`
	State     UnitSnapshot `json:"state"`
}

// AuctionEventPayload rides on the wrapper.<adapter>.auction.* topics.
type AuctionEventPayload struct {
	UnitID    string `json:"unitId"`
	Adapter   string `json:"adapter"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
	ElapsedMs int64  `json:"elapsedMs,omitempty"`
	BidCount  int    `json:"bidCount,omitempty"`
}
