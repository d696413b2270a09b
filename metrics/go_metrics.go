package metrics

import (
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics is the go-metrics backed MetricsEngine.
type Metrics struct {
	MetricsRegistry gometrics.Registry

	PartnerCompleteTimer map[Tier]gometrics.Timer
	PartnerTimeoutMeter  map[Tier]gometrics.Meter
	TierReadyTimer       map[Tier]gometrics.Timer
	TierTimeoutMeter     map[Tier]gometrics.Meter

	RegistrationMeter         gometrics.Meter
	RegistrationRejectedMeter gometrics.Meter

	// Per-adapter metrics are created lazily: adapters register at runtime,
	// so the full set is not known up front.
	adapterMetrics map[string]*AdapterMetrics
	adapterRWMutex sync.RWMutex
}

// AdapterMetrics houses the metrics for a particular adapter.
type AdapterMetrics struct {
	RequestMeter    gometrics.Meter
	BidsMeter       gometrics.Meter
	NoBidMeter      gometrics.Meter
	TimeoutMeter    gometrics.Meter
	PanicMeter      gometrics.Meter
	LateResultMeter gometrics.Meter
	RequestTimer    gometrics.Timer
}

var tiers = []Tier{TierBlocking, TierIndependent, TierNonCore}

// NewMetrics creates a Metrics engine registering everything on the supplied
// go-metrics registry.
func NewMetrics(registry gometrics.Registry) *Metrics {
	m := &Metrics{
		MetricsRegistry:           registry,
		PartnerCompleteTimer:      make(map[Tier]gometrics.Timer, len(tiers)),
		PartnerTimeoutMeter:       make(map[Tier]gometrics.Meter, len(tiers)),
		TierReadyTimer:            make(map[Tier]gometrics.Timer, len(tiers)),
		TierTimeoutMeter:          make(map[Tier]gometrics.Meter, len(tiers)),
		RegistrationMeter:         gometrics.GetOrRegisterMeter("adapters.registrations", registry),
		RegistrationRejectedMeter: gometrics.GetOrRegisterMeter("adapters.registrations_rejected", registry),
		adapterMetrics:            make(map[string]*AdapterMetrics),
	}
	for _, tier := range tiers {
		m.PartnerCompleteTimer[tier] = gometrics.GetOrRegisterTimer("partners."+string(tier)+".complete", registry)
		m.PartnerTimeoutMeter[tier] = gometrics.GetOrRegisterMeter("partners."+string(tier)+".timeout", registry)
		m.TierReadyTimer[tier] = gometrics.GetOrRegisterTimer("partners."+string(tier)+".ready", registry)
		m.TierTimeoutMeter[tier] = gometrics.GetOrRegisterMeter("partners."+string(tier)+".ready_by_timeout", registry)
	}
	return m
}

func (m *Metrics) RecordPartnerComplete(tier Tier, partner string, latency time.Duration) {
	m.PartnerCompleteTimer[tier].Update(latency)
}

func (m *Metrics) RecordPartnerTimeout(tier Tier, partner string) {
	m.PartnerTimeoutMeter[tier].Mark(1)
}

func (m *Metrics) RecordTierReady(tier Tier, elapsed time.Duration, timedOut bool) {
	m.TierReadyTimer[tier].Update(elapsed)
	if timedOut {
		m.TierTimeoutMeter[tier].Mark(1)
	}
}

func (m *Metrics) RecordAdapterRegistration(adapter string, accepted bool) {
	if accepted {
		m.RegistrationMeter.Mark(1)
	} else {
		m.RegistrationRejectedMeter.Mark(1)
	}
}

func (m *Metrics) RecordAdapterRequest(adapter string) {
	m.getAdapterMetrics(adapter).RequestMeter.Mark(1)
}

func (m *Metrics) RecordAdapterBid(adapter string, hadBid bool, latency time.Duration) {
	am := m.getAdapterMetrics(adapter)
	if hadBid {
		am.BidsMeter.Mark(1)
	} else {
		am.NoBidMeter.Mark(1)
	}
	am.RequestTimer.Update(latency)
}

func (m *Metrics) RecordAdapterFallbackTimeout(adapter string) {
	m.getAdapterMetrics(adapter).TimeoutMeter.Mark(1)
}

func (m *Metrics) RecordAdapterPanic(adapter string) {
	m.getAdapterMetrics(adapter).PanicMeter.Mark(1)
}

func (m *Metrics) RecordLateResult(adapter string) {
	m.getAdapterMetrics(adapter).LateResultMeter.Mark(1)
}

func (m *Metrics) getAdapterMetrics(adapter string) *AdapterMetrics {
	m.adapterRWMutex.RLock()
	am, found := m.adapterMetrics[adapter]
	m.adapterRWMutex.RUnlock()
	if found {
		return am
	}

	m.adapterRWMutex.Lock()
	defer m.adapterRWMutex.Unlock()
	// check again in case another goroutine created it while we waited
	if am, found = m.adapterMetrics[adapter]; found {
		return am
	}
	prefix := "adapter." + adapter + "."
	am = &AdapterMetrics{
		RequestMeter:    gometrics.GetOrRegisterMeter(prefix+"requests", m.MetricsRegistry),
		BidsMeter:       gometrics.GetOrRegisterMeter(prefix+"bids", m.MetricsRegistry),
		NoBidMeter:      gometrics.GetOrRegisterMeter(prefix+"nobids", m.MetricsRegistry),
		TimeoutMeter:    gometrics.GetOrRegisterMeter(prefix+"timeouts", m.MetricsRegistry),
		PanicMeter:      gometrics.GetOrRegisterMeter(prefix+"panics", m.MetricsRegistry),
		LateResultMeter: gometrics.GetOrRegisterMeter(prefix+"late_results", m.MetricsRegistry),
		RequestTimer:    gometrics.GetOrRegisterTimer(prefix+"request_time", m.MetricsRegistry),
	}
	m.adapterMetrics[adapter] = am
	return am
}
