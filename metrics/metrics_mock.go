package metrics

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MetricsEngineMock is mock for the MetricsEngine interface
type MetricsEngineMock struct {
	mock.Mock
}

// RecordPartnerComplete mock
func (me *MetricsEngineMock) RecordPartnerComplete(tier Tier, partner string, latency time.Duration) {
	me.Called(tier, partner, latency)
}

// RecordPartnerTimeout mock
func (me *MetricsEngineMock) RecordPartnerTimeout(tier Tier, partner string) {
	me.Called(tier, partner)
}

// RecordTierReady mock
func (me *MetricsEngineMock) RecordTierReady(tier Tier, elapsed time.Duration, timedOut bool) {
	me.Called(tier, elapsed, timedOut)
}

// RecordAdapterRegistration mock
func (me *MetricsEngineMock) RecordAdapterRegistration(adapter string, accepted bool) {
	me.Called(adapter, accepted)
}

// RecordAdapterRequest mock
func (me *MetricsEngineMock) RecordAdapterRequest(adapter string) {
	me.Called(adapter)
}

// RecordAdapterBid mock
func (me *MetricsEngineMock) RecordAdapterBid(adapter string, hadBid bool, latency time.Duration) {
	me.Called(adapter, hadBid, latency)
}

// RecordAdapterFallbackTimeout mock
func (me *MetricsEngineMock) RecordAdapterFallbackTimeout(adapter string) {
	me.Called(adapter)
}

// RecordAdapterPanic mock
func (me *MetricsEngineMock) RecordAdapterPanic(adapter string) {
	me.Called(adapter)
}

// RecordLateResult mock
func (me *MetricsEngineMock) RecordLateResult(adapter string) {
	me.Called(adapter)
}
