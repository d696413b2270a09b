package metrics

import (
	"time"
)

// Tier labels the partner tier a metric belongs to.
type Tier string

const (
	TierBlocking    Tier = "blocking"
	TierIndependent Tier = "independent"
	TierNonCore     Tier = "non_core"
)

// MetricsEngine is the interface the orchestrators record against. A nil-safe
// no-op engine and a go-metrics backed engine are provided; tests use the
// testify mock.
type MetricsEngine interface {
	// RecordPartnerComplete notes a partner completion signal, with the
	// latency from orchestrator init to completion.
	RecordPartnerComplete(tier Tier, partner string, latency time.Duration)

	// RecordPartnerTimeout notes a partner force-timed-out by its tier window.
	RecordPartnerTimeout(tier Tier, partner string)

	// RecordTierReady notes a tier readiness gate flipping, with the elapsed
	// time and whether the tier's timeout fired first.
	RecordTierReady(tier Tier, elapsed time.Duration, timedOut bool)

	// RecordAdapterRegistration notes a registration attempt and its outcome.
	RecordAdapterRegistration(adapter string, accepted bool)

	// RecordAdapterRequest notes one adapter entering a unit auction.
	RecordAdapterRequest(adapter string)

	// RecordAdapterBid notes an adapter settling a bid request, with outcome
	// and elapsed time.
	RecordAdapterBid(adapter string, hadBid bool, latency time.Duration)

	// RecordAdapterFallbackTimeout notes the fallback timer settling an
	// adapter before the adapter did.
	RecordAdapterFallbackTimeout(adapter string)

	// RecordAdapterPanic notes a recovered panic inside an adapter call.
	RecordAdapterPanic(adapter string)

	// RecordLateResult notes an adapter result arriving after its fallback
	// timer already settled the unit. The result is discarded.
	RecordLateResult(adapter string)
}
