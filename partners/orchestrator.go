package partners

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/pubkit/adcoord/config"
	"github.com/pubkit/adcoord/eventbus"
	"github.com/pubkit/adcoord/metrics"
	"github.com/pubkit/adcoord/util/timeutil"
)

// Options configures Init. OnReady runs synchronously immediately before the
// blocking tier's readiness signal is published; OnAllReady likewise for the
// combined blocking+independent signal. Each runs exactly once.
// PartnersStartTime, when non-zero, marks when the partners actually began
// loading; time already spent waiting is deducted from the blocking budget.
type Options struct {
	OnReady           func()
	OnAllReady        func()
	PartnersStartTime time.Time
}

// Orchestrator tracks readiness of three independent partner tiers and fires
// tiered readiness signals on the event bus. Blocking partners gate
// partnersReady within a dependency-graph-derived budget; independent
// partners gate allPartnersReady within a second, sequential window; non-core
// partners are tracked for cleanup only.
type Orchestrator struct {
	cfg   config.Partners
	bus   *eventbus.Bus
	me    metrics.MetricsEngine
	clock timeutil.Time

	mu          sync.Mutex
	initialized bool
	startTime   time.Time

	universalTimeout   time.Duration
	independentTimeout time.Duration
	nonCoreTimeout     time.Duration

	blocking    map[string]*PartnerStatus
	independent map[string]*PartnerStatus
	nonCore     map[string]*PartnerStatus

	// Monotonic readiness gates: each flips false→true exactly once.
	partnersReady    bool
	independentDone  bool
	allPartnersReady bool
	nonCoreReady     bool

	blockingTimeoutFired    bool
	independentTimeoutFired bool
	nonCoreTimeoutFired     bool

	onReady    func()
	onAllReady func()

	blockingTimer    *time.Timer
	independentTimer *time.Timer
	nonCoreTimer     *time.Timer

	subs []*eventbus.Subscription
}

func NewOrchestrator(cfg config.Partners, bus *eventbus.Bus, me metrics.MetricsEngine, clock timeutil.Time) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		bus:   bus,
		me:    me,
		clock: clock,
	}
}

// Init computes the tier budgets, begins tracking every active partner, and
// arms the blocking and non-core timeout windows. The independent window is
// armed later, when blocking readiness fires. Calling Init twice without a
// Reset is a no-op.
func (o *Orchestrator) Init(opts Options) {
	o.mu.Lock()
	if o.initialized {
		o.mu.Unlock()
		glog.Warning("partner orchestrator already initialized; ignoring Init")
		return
	}
	o.initialized = true
	o.onReady = opts.OnReady
	o.onAllReady = opts.OnAllReady

	now := o.clock.Now()
	o.startTime = now
	if !opts.PartnersStartTime.IsZero() {
		o.startTime = opts.PartnersStartTime
	}

	criticalPath := time.Duration(CriticalPath(o.cfg.Blocking, o.cfg.Defaults.UniversalTimeoutMs)) * time.Millisecond
	elapsed := now.Sub(o.startTime)
	minTimeout := time.Duration(o.cfg.Defaults.MinTimeoutMs) * time.Millisecond
	o.universalTimeout = criticalPath - elapsed
	if o.universalTimeout < minTimeout {
		o.universalTimeout = minTimeout
	}
	o.independentTimeout = time.Duration(o.cfg.Defaults.IndependentTimeoutMs) * time.Millisecond
	o.nonCoreTimeout = time.Duration(o.cfg.Defaults.NonCoreTimeoutMs) * time.Millisecond

	o.blocking = trackActive(o.cfg.Blocking, o.startTime)
	o.independent = trackActive(o.cfg.Independent, o.startTime)
	o.nonCore = trackActive(o.cfg.NonCore, o.startTime)

	glog.Infof("partner orchestrator initialized: %d blocking (budget %v), %d independent, %d non-core",
		len(o.blocking), o.universalTimeout, len(o.independent), len(o.nonCore))

	if len(o.blocking) > 0 {
		o.blockingTimer = time.AfterFunc(o.universalTimeout, o.onBlockingTimeout)
	}
	if len(o.nonCore) > 0 {
		o.nonCoreTimer = time.AfterFunc(o.nonCoreTimeout, o.onNonCoreTimeout)
	}

	actions := o.evaluateGatesLocked()
	o.mu.Unlock()

	// Zero-partner tiers settle right here, before any subscription exists,
	// so their signals are published first.
	runAll(actions)

	// Completion subscriptions replay: a partner may have completed before
	// the orchestrator came up (e.g. while waiting on a consent signal).
	for _, name := range o.trackedNames() {
		partner := name
		sub := o.bus.SubscribeWithReplay(eventbus.PartnerCompleteTopic(partner), func(eventbus.Event) {
			o.onPartnerComplete(partner)
		})
		o.mu.Lock()
		o.subs = append(o.subs, sub)
		o.mu.Unlock()
	}
}

func trackActive(tier []config.Partner, startTime time.Time) map[string]*PartnerStatus {
	statuses := make(map[string]*PartnerStatus)
	for _, p := range tier {
		if p.Active {
			statuses[p.Name] = &PartnerStatus{Status: StatusPending, StartTime: startTime}
		}
	}
	return statuses
}

func (o *Orchestrator) trackedNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	seen := make(map[string]bool)
	var names []string
	for _, tier := range []map[string]*PartnerStatus{o.blocking, o.independent, o.nonCore} {
		for name := range tier {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

func (o *Orchestrator) onPartnerComplete(name string) {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		return
	}
	now := o.clock.Now()
	completed := false
	for tier, statuses := range map[metrics.Tier]map[string]*PartnerStatus{
		metrics.TierBlocking:    o.blocking,
		metrics.TierIndependent: o.independent,
		metrics.TierNonCore:     o.nonCore,
	} {
		ps, tracked := statuses[name]
		if !tracked || ps.Status != StatusPending {
			// already completed or timed out; completion signals are idempotent
			continue
		}
		ps.Status = StatusCompleted
		ps.CompletedTime = now
		completed = true
		o.me.RecordPartnerComplete(tier, name, now.Sub(ps.StartTime))
	}
	var actions []func()
	if completed {
		actions = o.evaluateGatesLocked()
	}
	o.mu.Unlock()
	runAll(actions)
}

func (o *Orchestrator) onBlockingTimeout() {
	o.mu.Lock()
	if !o.initialized || o.partnersReady {
		o.mu.Unlock()
		return
	}
	o.blockingTimeoutFired = true
	now := o.clock.Now()

	// Ready anyway: mark stragglers and move on, one diagnostic each.
	var diagnostics []func()
	for name, ps := range o.blocking {
		if ps.Status != StatusPending {
			continue
		}
		ps.Status = StatusTimeout
		o.me.RecordPartnerTimeout(metrics.TierBlocking, name)
		partner := name
		elapsedMs := now.Sub(ps.StartTime).Milliseconds()
		diagnostics = append(diagnostics, func() {
			glog.Warningf("blocking partner %q timed out after %dms", partner, elapsedMs)
			o.bus.Publish(eventbus.PartnerTimeoutTopic(partner), PartnerTimeoutPayload{Partner: partner, ElapsedMs: elapsedMs})
		})
	}
	actions := append(diagnostics, o.evaluateGatesLocked()...)
	o.mu.Unlock()
	runAll(actions)
}

func (o *Orchestrator) onIndependentTimeout() {
	o.mu.Lock()
	if !o.initialized || o.independentDone {
		o.mu.Unlock()
		return
	}
	o.independentTimeoutFired = true

	var timedOut []string
	for name, ps := range o.independent {
		if ps.Status == StatusPending {
			ps.Status = StatusTimeout
			o.me.RecordPartnerTimeout(metrics.TierIndependent, name)
			timedOut = append(timedOut, name)
		}
	}
	actions := []func(){func() {
		glog.Warningf("independent partners timed out: %v", timedOut)
		o.bus.Publish(eventbus.TopicIndependentTimeout, IndependentTimeoutPayload{TimedOut: timedOut})
	}}
	actions = append(actions, o.evaluateGatesLocked()...)
	o.mu.Unlock()
	runAll(actions)
}

func (o *Orchestrator) onNonCoreTimeout() {
	o.mu.Lock()
	if !o.initialized || o.nonCoreReady {
		o.mu.Unlock()
		return
	}
	o.nonCoreTimeoutFired = true
	for name, ps := range o.nonCore {
		if ps.Status == StatusPending {
			ps.Status = StatusTimeout
			o.me.RecordPartnerTimeout(metrics.TierNonCore, name)
		}
	}
	actions := o.evaluateGatesLocked()
	o.mu.Unlock()
	runAll(actions)
}

// evaluateGatesLocked re-checks every readiness gate and returns the
// callbacks and publications the caller must run after releasing the lock.
// Gates are monotonic: a gate already true is never re-fired.
func (o *Orchestrator) evaluateGatesLocked() []func() {
	var actions []func()
	now := o.clock.Now()

	if !o.partnersReady && allSettled(o.blocking) {
		o.partnersReady = true
		stopTimer(o.blockingTimer)
		elapsed := now.Sub(o.startTime)
		payload := ReadyPayload{
			ElapsedMs: elapsed.Milliseconds(),
			Partners:  snapshot(o.blocking),
			TimedOut:  o.blockingTimeoutFired,
		}
		o.me.RecordTierReady(metrics.TierBlocking, elapsed, o.blockingTimeoutFired)
		onReady := o.onReady
		timedOut := o.blockingTimeoutFired
		actions = append(actions, func() {
			if onReady != nil {
				onReady()
			}
			glog.Infof("blocking partners ready after %v (timedOut=%t)", elapsed, timedOut)
			o.bus.Publish(eventbus.TopicPartnersReady, payload)
		})

		// The independent window opens only now; the two tiers get
		// sequential, non-overlapping budgets.
		if len(o.independent) > 0 {
			o.independentTimer = time.AfterFunc(o.independentTimeout, o.onIndependentTimeout)
		}
	}

	if o.partnersReady && !o.independentDone && allSettled(o.independent) {
		o.independentDone = true
		stopTimer(o.independentTimer)
		o.me.RecordTierReady(metrics.TierIndependent, now.Sub(o.startTime), o.independentTimeoutFired)
	}

	if o.partnersReady && o.independentDone && !o.allPartnersReady {
		o.allPartnersReady = true
		payload := AdsReadyPayload{
			Blocking:            snapshot(o.blocking),
			Independent:         snapshot(o.independent),
			BlockingTimedOut:    o.blockingTimeoutFired,
			IndependentTimedOut: o.independentTimeoutFired,
		}
		onAllReady := o.onAllReady
		actions = append(actions, func() {
			if onAllReady != nil {
				onAllReady()
			}
			o.bus.Publish(eventbus.TopicAdsReady, payload)
		})
	}

	if !o.nonCoreReady && allSettled(o.nonCore) {
		o.nonCoreReady = true
		stopTimer(o.nonCoreTimer)
		elapsed := now.Sub(o.startTime)
		payload := ReadyPayload{
			ElapsedMs: elapsed.Milliseconds(),
			Partners:  snapshot(o.nonCore),
			TimedOut:  o.nonCoreTimeoutFired,
		}
		o.me.RecordTierReady(metrics.TierNonCore, elapsed, o.nonCoreTimeoutFired)
		actions = append(actions, func() {
			o.bus.Publish(eventbus.TopicNonCoreReady, payload)
		})
	}

	return actions
}

// StateSnapshot is a copy of the orchestrator's externally visible state.
type StateSnapshot struct {
	Initialized             bool           `json:"initialized"`
	UniversalTimeoutMs      int64          `json:"universalTimeoutMs"`
	IndependentTimeoutMs    int64          `json:"independentTimeoutMs"`
	NonCoreTimeoutMs        int64          `json:"nonCoreTimeoutMs"`
	PartnersReady           bool           `json:"partnersReady"`
	AllPartnersReady        bool           `json:"allPartnersReady"`
	NonCoreReady            bool           `json:"nonCoreReady"`
	BlockingTimeoutFired    bool           `json:"blockingTimeoutFired"`
	IndependentTimeoutFired bool           `json:"independentTimeoutFired"`
	NonCoreTimeoutFired     bool           `json:"nonCoreTimeoutFired"`
	Blocking                StatusSnapshot `json:"blocking"`
	Independent             StatusSnapshot `json:"independent"`
	NonCore                 StatusSnapshot `json:"nonCore"`
}

// Snapshot returns a copy of the current state. Before Init it reports an
// empty, uninitialized snapshot rather than faulting.
func (o *Orchestrator) Snapshot() StateSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return StateSnapshot{
		Initialized:             o.initialized,
		UniversalTimeoutMs:      o.universalTimeout.Milliseconds(),
		IndependentTimeoutMs:    o.independentTimeout.Milliseconds(),
		NonCoreTimeoutMs:        o.nonCoreTimeout.Milliseconds(),
		PartnersReady:           o.partnersReady,
		AllPartnersReady:        o.allPartnersReady,
		NonCoreReady:            o.nonCoreReady,
		BlockingTimeoutFired:    o.blockingTimeoutFired,
		IndependentTimeoutFired: o.independentTimeoutFired,
		NonCoreTimeoutFired:     o.nonCoreTimeoutFired,
		Blocking:                snapshot(o.blocking),
		Independent:             snapshot(o.independent),
		NonCore:                 snapshot(o.nonCore),
	}
}

// PartnersReady reports whether the blocking tier has settled.
func (o *Orchestrator) PartnersReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.partnersReady
}

// AllPartnersReady reports whether both gated tiers have settled.
func (o *Orchestrator) AllPartnersReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.allPartnersReady
}

// Reset tears down all timers and subscriptions and clears all bookkeeping,
// returning the orchestrator to its pre-Init state. This is the only
// supported way to rerun the orchestrator within one process.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	stopTimer(o.blockingTimer)
	stopTimer(o.independentTimer)
	stopTimer(o.nonCoreTimer)
	o.blockingTimer, o.independentTimer, o.nonCoreTimer = nil, nil, nil
	subs := o.subs
	o.subs = nil
	o.blocking, o.independent, o.nonCore = nil, nil, nil
	o.partnersReady, o.independentDone, o.allPartnersReady, o.nonCoreReady = false, false, false, false
	o.blockingTimeoutFired, o.independentTimeoutFired, o.nonCoreTimeoutFired = false, false, false
	o.universalTimeout, o.independentTimeout, o.nonCoreTimeout = 0, 0, 0
	o.onReady, o.onAllReady = nil, nil
	o.initialized = false
	o.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func runAll(actions []func()) {
	for _, action := range actions {
		action()
	}
}
