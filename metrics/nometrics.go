package metrics

// This file provides a no-op implementation of MetricsEngine, for hosts that
// don't want to export metrics anywhere.

import (
	"time"
)

func NewNilMetrics() MetricsEngine {
	return &nilMetrics{}
}

type nilMetrics struct{}

func (nilMetrics) RecordPartnerComplete(tier Tier, partner string, latency time.Duration) {}
func (nilMetrics) RecordPartnerTimeout(tier Tier, partner string)                         {}
func (nilMetrics) RecordTierReady(tier Tier, elapsed time.Duration, timedOut bool)        {}
func (nilMetrics) RecordAdapterRegistration(adapter string, accepted bool)                {}
func (nilMetrics) RecordAdapterRequest(adapter string)                                    {}
func (nilMetrics) RecordAdapterBid(adapter string, hadBid bool, latency time.Duration)    {}
func (nilMetrics) RecordAdapterFallbackTimeout(adapter string)                            {}
func (nilMetrics) RecordAdapterPanic(adapter string)                                      {}
func (nilMetrics) RecordLateResult(adapter string)                                        {}
