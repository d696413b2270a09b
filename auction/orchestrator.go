package auction

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/gofrs/uuid"
	"github.com/golang/glog"

	"github.com/pubkit/adcoord/config"
	"github.com/pubkit/adcoord/errortypes"
	"github.com/pubkit/adcoord/eventbus"
	"github.com/pubkit/adcoord/metrics"
	"github.com/pubkit/adcoord/targeting"
	"github.com/pubkit/adcoord/util/timeutil"
)

// Orchestrator runs one bidding round per display unit across all registered
// adapters in parallel. Per-unit state, the archive, and the registry are
// owned exclusively here; external code mutates them only through Register,
// RequestAuction, ApplyBids, ClearAuction, and Reset.
type Orchestrator struct {
	cfg        config.Auction
	adapterCfg map[string]config.Adapter
	registry   *Registry
	bus        *eventbus.Bus
	me         metrics.MetricsEngine
	clock      timeutil.Time
	eval       targeting.Evaluator

	mu      sync.Mutex
	units   map[string]*unitState
	archive map[string][]ArchiveEntry
}

func NewOrchestrator(cfg config.Auction, adapterCfg map[string]config.Adapter, registry *Registry, bus *eventbus.Bus, me metrics.MetricsEngine, clock timeutil.Time, eval targeting.Evaluator) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		adapterCfg: adapterCfg,
		registry:   registry,
		bus:        bus,
		me:         me,
		clock:      clock,
		eval:       eval,
		units:      make(map[string]*unitState),
		archive:    make(map[string][]ArchiveEntry),
	}
}

// RequestOptions carries the per-request dimension context and, for batched
// requests, how many units of work were requested together (reflected as the
// ".N" suffix on lifecycle topics).
type RequestOptions struct {
	Context    map[string]string
	BatchCount int
}

type outcome struct {
	name   string
	result *Result
}

// RequestAuction fans out to every adapter that passes the eligibility gates
// and resolves once all of them have settled, returning each adapter's
// individual outcome. Adapters failing a gate get a structured non-bid result
// with a reason. A single adapter's failure never fails the batch: panics and
// errors are converted to failure results at the adapter boundary.
func (o *Orchestrator) RequestAuction(ctx context.Context, unitID string, opts RequestOptions) map[string]*Result {
	adapters := o.registry.Adapters()
	results := make(map[string]*Result, len(adapters))

	ch := make(chan outcome, len(adapters))
	inFlight := 0
	for _, adapter := range adapters {
		if reason, eligible := o.checkGates(adapter.Name); !eligible {
			results[adapter.Name] = &Result{Success: false, Reason: reason}
			continue
		}
		inFlight++
		go o.runSafely(ctx, adapter, unitID, opts, ch)
	}

	for i := 0; i < inFlight; i++ {
		oc := <-ch
		results[oc.name] = oc.result
	}
	return results
}

// checkGates applies the orchestrator-side eligibility gates: host config
// enablement, structural partner-active check, and partner readiness. The
// adapter-side gates (library loaded, slot config) run inside the adapter's
// own goroutine, behind the panic boundary.
func (o *Orchestrator) checkGates(name string) (string, bool) {
	if !o.adapterCfg[name].Enabled {
		return "adapter disabled by config", false
	}
	if link, found := o.registry.Link(name); found && link.Found && !link.Active {
		return fmt.Sprintf("partner %q inactive", link.PartnerName), false
	}
	if !o.registry.PartnerReady(name) {
		return "partner not ready", false
	}
	return "", true
}

// runSafely is the outer safety wrapper around one adapter's auction: any
// otherwise-uncaught panic is substituted with a default failure result, and
// if the adapter had already entered pending state its slot is settled to
// no-bid so the fallback timer cannot double-settle it.
func (o *Orchestrator) runSafely(ctx context.Context, adapter Adapter, unitID string, opts RequestOptions, ch chan<- outcome) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("auction recovered panic from adapter %s on unit %s: %v. Stack trace is: %v",
				adapter.Name, unitID, r, string(debug.Stack()))
			o.me.RecordAdapterPanic(adapter.Name)
			ch <- outcome{adapter.Name, o.settleFailure(adapter.Name, unitID, opts, fmt.Sprintf("adapter panic: %v", r))}
		}
	}()

	if !adapter.IsLibraryLoaded() {
		ch <- outcome{adapter.Name, &Result{Success: false, Reason: "library not loaded"}}
		return
	}
	if !adapter.HasSlotConfig(unitID, opts.Context) {
		ch <- outcome{adapter.Name, &Result{Success: false, Reason: "no slot config for unit"}}
		return
	}
	ch <- outcome{adapter.Name, o.runAdapter(ctx, adapter, unitID, opts)}
}

// adapterRun is one adapter's participation in one unit's auction.
type adapterRun struct {
	name    string
	unitID  string
	opts    RequestOptions
	start   time.Time
	timeout time.Duration
	token   *fallbackToken

	// timedOut closes when the fallback settles the run; timeoutResult is
	// assigned under the orchestrator lock before the close.
	timedOut      chan struct{}
	timeoutResult *Result
}

func (o *Orchestrator) runAdapter(ctx context.Context, adapter Adapter, unitID string, opts RequestOptions) *Result {
	run := o.begin(adapter.Name, unitID, opts)

	resCh := make(chan *Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				glog.Errorf("adapter %s panicked requesting bids for unit %s: %v. Stack trace is: %v",
					adapter.Name, unitID, r, string(debug.Stack()))
				o.me.RecordAdapterPanic(adapter.Name)
				resCh <- &Result{Success: false, Reason: fmt.Sprintf("adapter panic: %v", r)}
			}
		}()
		res, err := adapter.RequestBids(ctx, unitID, opts.Context, run.timeout)
		// adapter errors become structured non-bid results, never exceptions
		if err != nil {
			runtimeErr := &errortypes.AdapterRuntime{Adapter: adapter.Name, Message: err.Error()}
			res = &Result{Success: false, Reason: runtimeErr.Error()}
		}
		if res == nil {
			res = &Result{Success: false, Reason: "adapter returned no result"}
		}
		resCh <- res
	}()

	select {
	case res := <-resCh:
		return o.settleResult(run, res)
	case <-run.timedOut:
		// First settlement wins. Whatever the adapter eventually returns is
		// discarded on arrival; in-flight work cannot be cancelled, only its
		// result ignored.
		go o.discardLate(ctx, run, resCh)
		return run.timeoutResult
	case <-ctx.Done():
		return o.settleFailure(run.name, run.unitID, opts, fmt.Sprintf("request context ended: %v", ctx.Err()))
	}
}

// begin moves the adapter off→pending for the unit, stamping the unit's
// shared startTime and timeout if this is the first adapter to start, and
// arms the fallback timer at timeout+buffer.
func (o *Orchestrator) begin(name, unitID string, opts RequestOptions) *adapterRun {
	o.mu.Lock()
	st, found := o.units[unitID]
	if !found {
		st = newUnitState()
		o.units[unitID] = st
	}
	if !st.startSet {
		st.startTime = o.clock.Now()
		st.timeout = o.effectiveTimeout(opts)
		st.startSet = true
	}
	run := &adapterRun{
		name:     name,
		unitID:   unitID,
		opts:     opts,
		start:    o.clock.Now(),
		timeout:  st.timeout,
		timedOut: make(chan struct{}),
	}
	st.statuses[name] = WrapperPending
	buffer := time.Duration(o.cfg.FallbackBufferMs) * time.Millisecond
	run.token = armFallback(run.timeout+buffer, func() { o.settleTimeout(run) })
	st.tokens[name] = run.token
	o.mu.Unlock()

	o.me.RecordAdapterRequest(name)
	o.bus.Publish(
		eventbus.AuctionTopic(name, eventbus.AuctionPhaseStart, unitID, opts.BatchCount),
		AuctionEventPayload{UnitID: unitID, Adapter: name, TimeoutMs: run.timeout.Milliseconds()},
	)
	return run
}

// settleTimeout is the fallback timer's settlement path: if the adapter is
// still pending, it becomes a no-bid and the timeout signal is published.
func (o *Orchestrator) settleTimeout(run *adapterRun) {
	o.mu.Lock()
	st := o.units[run.unitID]
	if st == nil || st.statuses[run.name] != WrapperPending {
		o.mu.Unlock()
		return
	}
	st.statuses[run.name] = WrapperNoBid
	timeoutErr := &errortypes.AuctionTimeout{Adapter: run.name, UnitID: run.unitID}
	run.timeoutResult = &Result{Success: false, Reason: timeoutErr.Error()}
	elapsed := o.clock.Now().Sub(run.start)
	o.mu.Unlock()
	close(run.timedOut)

	glog.Warning(timeoutErr.Error())
	o.me.RecordAdapterFallbackTimeout(run.name)
	o.bus.Publish(
		eventbus.AuctionTopic(run.name, eventbus.AuctionPhaseTimeout, run.unitID, run.opts.BatchCount),
		AuctionEventPayload{UnitID: run.unitID, Adapter: run.name, TimeoutMs: run.timeout.Milliseconds(), ElapsedMs: elapsed.Milliseconds()},
	)
}

// settleResult is the adapter's settlement path. If the fallback already
// settled the run, the result is late and discarded.
func (o *Orchestrator) settleResult(run *adapterRun, res *Result) *Result {
	o.mu.Lock()
	st := o.units[run.unitID]
	if st == nil || st.statuses[run.name] != WrapperPending {
		timeoutResult := run.timeoutResult
		o.mu.Unlock()
		o.recordLate(run.name, run.unitID)
		if timeoutResult != nil {
			return timeoutResult
		}
		return &Result{Success: false, Reason: "late result discarded"}
	}

	run.token.Cancel()
	now := o.clock.Now()
	elapsed := now.Sub(run.start)
	hadBid := res.HadBid()
	if hadBid {
		st.statuses[run.name] = WrapperHadBid
	} else {
		st.statuses[run.name] = WrapperNoBid
	}
	for _, bid := range res.Bids {
		bidder := bid.Bidder
		if bidder == "" && len(bid.Raw) > 0 {
			// adapters are not required to label bids; fall back to the payload
			if fromRaw, err := jsonparser.GetString(bid.Raw, "bidder"); err == nil {
				bidder = fromRaw
			}
		}
		if bidder == "" {
			continue
		}
		rawMs := bid.ResponseTimeMs
		if rawMs <= 0 {
			rawMs = elapsed.Milliseconds()
		}
		st.bidderTiming[bidder] = BidderTiming{RawMs: rawMs, Formatted: fmt.Sprintf("%dms", rawMs)}
		if bid.HasBid {
			st.bids = append(st.bids, bid)
			if glog.V(2) && len(bid.Raw) > 0 {
				if cpm, err := jsonparser.GetFloat(bid.Raw, "cpm"); err == nil {
					glog.Infof("adapter %s bidder %s bid %.2f on unit %s", run.name, bidder, cpm, run.unitID)
				}
			}
		}
	}
	overBudget := elapsed > run.timeout
	o.mu.Unlock()

	o.me.RecordAdapterBid(run.name, hadBid, elapsed)
	if overBudget {
		glog.Warningf("adapter %s settled unit %s in %v, over its %v budget", run.name, run.unitID, elapsed, run.timeout)
	}
	phase := eventbus.AuctionPhaseNoBid
	if hadBid {
		phase = eventbus.AuctionPhaseBids
	}
	o.bus.Publish(
		eventbus.AuctionTopic(run.name, phase, run.unitID, run.opts.BatchCount),
		AuctionEventPayload{UnitID: run.unitID, Adapter: run.name, ElapsedMs: elapsed.Milliseconds(), BidCount: len(res.Bids)},
	)
	return res
}

// settleFailure resolves an adapter's slot to no-bid with the given reason,
// respecting first-settlement-wins. Used by the panic boundary and context
// cancellation; safe to call whether or not the run ever began.
func (o *Orchestrator) settleFailure(name, unitID string, opts RequestOptions, reason string) *Result {
	res := &Result{Success: false, Reason: reason}
	o.mu.Lock()
	st := o.units[unitID]
	if st == nil || st.statuses[name] != WrapperPending {
		o.mu.Unlock()
		return res
	}
	st.statuses[name] = WrapperNoBid
	if token := st.tokens[name]; token != nil {
		token.Cancel()
	}
	o.mu.Unlock()

	o.bus.Publish(
		eventbus.AuctionTopic(name, eventbus.AuctionPhaseNoBid, unitID, opts.BatchCount),
		AuctionEventPayload{UnitID: unitID, Adapter: name},
	)
	return res
}

func (o *Orchestrator) discardLate(ctx context.Context, run *adapterRun, resCh <-chan *Result) {
	select {
	case <-resCh:
		o.recordLate(run.name, run.unitID)
	case <-ctx.Done():
	}
}

func (o *Orchestrator) recordLate(name, unitID string) {
	glog.Warningf("discarding late result from adapter %s for unit %s; fallback already settled it", name, unitID)
	o.me.RecordLateResult(name)
}

// effectiveTimeout is the unit budget: base timeout plus the sum of every
// matching dimension-based modifier rule. Modifiers are additive, not max.
func (o *Orchestrator) effectiveTimeout(opts RequestOptions) time.Duration {
	ms := o.cfg.BaseTimeoutMs
	for _, rule := range o.cfg.TimeoutRules {
		verdict := o.eval.Evaluate(rule.Include, rule.Exclude, opts.Context, o.cfg.Dimensions)
		if verdict.Matched {
			ms += rule.ModifierMs
		}
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// ApplyBids invokes ApplyTargeting for every adapter whose status on the unit
// is had-bid. It is deliberately separate from bid collection so targeting
// can be deferred until the ad-server call decision is made.
func (o *Orchestrator) ApplyBids(unitID string) {
	o.mu.Lock()
	st := o.units[unitID]
	if st == nil {
		o.mu.Unlock()
		return
	}
	var winners []string
	for name, status := range st.statuses {
		if status == WrapperHadBid {
			winners = append(winners, name)
		}
	}
	o.mu.Unlock()

	sort.Strings(winners)
	for _, name := range winners {
		if adapter, found := o.registry.Get(name); found {
			adapter.ApplyTargeting(unitID)
		}
	}
}

// ClearAuction archives the unit's live state, cancels any still-armed
// fallback timers, deletes the live state, and notifies every adapter's
// optional ClearSlot hook. Clearing a unit with no live state is a no-op.
func (o *Orchestrator) ClearAuction(unitID string) {
	o.mu.Lock()
	st := o.units[unitID]
	if st == nil {
		o.mu.Unlock()
		return
	}
	for _, token := range st.tokens {
		token.Cancel()
	}
	entry := ArchiveEntry{ClearedAt: o.clock.Now(), State: st.snapshot(unitID)}
	if id, err := uuid.NewV4(); err == nil {
		entry.ID = id.String()
	}
	o.archive[unitID] = append(o.archive[unitID], entry)
	delete(o.units, unitID)
	o.mu.Unlock()

	for _, adapter := range o.registry.Adapters() {
		if adapter.ClearSlot != nil {
			adapter.ClearSlot(unitID)
		}
	}
	glog.Infof("cleared auction state for unit %s", unitID)
}

// State returns a snapshot of the unit's live auction state.
func (o *Orchestrator) State(unitID string) (UnitSnapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.units[unitID]
	if st == nil {
		return UnitSnapshot{}, false
	}
	return st.snapshot(unitID), true
}

// History returns the unit's archived auction states, oldest first.
func (o *Orchestrator) History(unitID string) []ArchiveEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := o.archive[unitID]
	out := make([]ArchiveEntry, len(entries))
	copy(out, entries)
	return out
}

// PruneArchive drops archive entries cleared before now-ttl and reports how
// many were removed.
func (o *Orchestrator) PruneArchive(ttl time.Duration) int {
	cutoff := o.clock.Now().Add(-ttl)
	o.mu.Lock()
	defer o.mu.Unlock()
	pruned := 0
	for unitID, entries := range o.archive {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.ClearedAt.Before(cutoff) {
				pruned++
			} else {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(o.archive, unitID)
		} else {
			o.archive[unitID] = kept
		}
	}
	return pruned
}

// Reset cancels every still-armed fallback timer and clears all live state
// and archives, returning the orchestrator to its pre-init state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	for _, st := range o.units {
		for _, token := range st.tokens {
			token.Cancel()
		}
	}
	o.units = make(map[string]*unitState)
	o.archive = make(map[string][]ArchiveEntry)
	o.mu.Unlock()
	o.registry.Reset()
}
