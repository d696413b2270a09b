package partners

import (
	"time"
)

// Status is the lifecycle state of one tracked partner. Transitions only go
// pending→completed or pending→timeout, never backward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusTimeout   Status = "timeout"
)

// PartnerStatus is the orchestrator's bookkeeping for one active partner.
type PartnerStatus struct {
	Status        Status    `json:"status"`
	StartTime     time.Time `json:"startTime"`
	CompletedTime time.Time `json:"completedTime,omitempty"`
}

// StatusSnapshot is a point-in-time copy of per-partner statuses, safe to
// hand to event payloads and endpoints.
type StatusSnapshot map[string]PartnerStatus

func snapshot(statuses map[string]*PartnerStatus) StatusSnapshot {
	out := make(StatusSnapshot, len(statuses))
	for name, ps := range statuses {
		out[name] = *ps
	}
	return out
}

func allSettled(statuses map[string]*PartnerStatus) bool {
	for _, ps := range statuses {
		if ps.Status == StatusPending {
			return false
		}
	}
	return true
}

// ReadyPayload is published on loader.partners.ready and
// loader.partners.nonCore.ready.
type ReadyPayload struct {
	ElapsedMs int64          `json:"elapsedMs"`
	Partners  StatusSnapshot `json:"partners"`
	TimedOut  bool           `json:"timedOut"`
}

// AdsReadyPayload is published on loader.ads.ready once both the blocking
// and independent tiers have settled.
type AdsReadyPayload struct {
	Blocking            StatusSnapshot `json:"blocking"`
	Independent         StatusSnapshot `json:"independent"`
	BlockingTimedOut    bool           `json:"blockingTimedOut"`
	IndependentTimedOut bool           `json:"independentTimedOut"`
}

// IndependentTimeoutPayload is published on
// loader.partners.independent.timeout.
type IndependentTimeoutPayload struct {
	TimedOut []string `json:"timedOut"`
}

// PartnerTimeoutPayload is the per-partner diagnostic published when the
// blocking window expires with the partner still pending.
type PartnerTimeoutPayload struct {
	Partner   string `json:"partner"`
	ElapsedMs int64  `json:"elapsedMs"`
}
