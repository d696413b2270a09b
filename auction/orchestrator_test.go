package auction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubkit/adcoord/config"
	"github.com/pubkit/adcoord/eventbus"
	"github.com/pubkit/adcoord/metrics"
	"github.com/pubkit/adcoord/targeting"
	"github.com/pubkit/adcoord/util/timeutil"
)

type orchestratorHarness struct {
	orchestrator *Orchestrator
	registry     *Registry
	bus          *eventbus.Bus
}

func newTestHarness(t *testing.T, cfg config.Auction, partnersCfg config.Partners, adapters ...Adapter) *orchestratorHarness {
	t.Helper()
	bus := eventbus.New()
	registry := NewRegistry(partnersCfg, bus, metrics.NewNilMetrics())

	adapterCfg := make(map[string]config.Adapter, len(adapters))
	for _, adapter := range adapters {
		require.NoError(t, registry.Register(adapter))
		adapterCfg[adapter.Name] = config.Adapter{Enabled: true}
	}
	registry.InitAll(nil)

	o := NewOrchestrator(cfg, adapterCfg, registry, bus, metrics.NewNilMetrics(), timeutil.RealTime{}, targeting.ExactMatchEvaluator{})
	return &orchestratorHarness{orchestrator: o, registry: registry, bus: bus}
}

func quickAuctionConfig() config.Auction {
	return config.Auction{BaseTimeoutMs: 60, FallbackBufferMs: 40}
}

func biddingAdapter(name string, bids ...Bid) Adapter {
	a := stubAdapter(name)
	a.RequestBids = func(context.Context, string, map[string]string, time.Duration) (*Result, error) {
		return &Result{Success: true, Bids: bids}, nil
	}
	return a
}

func TestRequestAuctionCollectsBids(t *testing.T) {
	h := newTestHarness(t, quickAuctionConfig(), config.Partners{},
		biddingAdapter("pubkit", Bid{Bidder: "appnexus", HasBid: true, ResponseTimeMs: 120}))

	results := h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	require.Len(t, results, 1)
	require.True(t, results["pubkit"].Success)
	assert.True(t, results["pubkit"].HadBid())

	state, found := h.orchestrator.State("div-1")
	require.True(t, found)
	assert.Equal(t, WrapperHadBid, state.Statuses["pubkit"])
	assert.Equal(t, int64(60), state.TimeoutMs)
	require.Contains(t, state.BidderTiming, "appnexus")
	assert.Equal(t, int64(120), state.BidderTiming["appnexus"].RawMs)
	assert.Equal(t, "120ms", state.BidderTiming["appnexus"].Formatted)
	require.Len(t, state.Bids, 1)

	assert.Len(t, h.bus.History(eventbus.AuctionTopic("pubkit", eventbus.AuctionPhaseStart, "div-1", 0)), 1)
	bidsEvents := h.bus.History(eventbus.AuctionTopic("pubkit", eventbus.AuctionPhaseBids, "div-1", 0))
	require.Len(t, bidsEvents, 1)
	assert.Equal(t, 1, bidsEvents[0].Payload.(AuctionEventPayload).BidCount)
}

func TestRequestAuctionNoBid(t *testing.T) {
	empty := stubAdapter("pubkit")
	empty.RequestBids = func(context.Context, string, map[string]string, time.Duration) (*Result, error) {
		return &Result{Success: true}, nil
	}
	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, empty)

	results := h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	assert.False(t, results["pubkit"].HadBid())

	state, _ := h.orchestrator.State("div-1")
	assert.Equal(t, WrapperNoBid, state.Statuses["pubkit"])
	assert.Len(t, h.bus.History(eventbus.AuctionTopic("pubkit", eventbus.AuctionPhaseNoBid, "div-1", 0)), 1)
	assert.Empty(t, h.bus.History(eventbus.AuctionTopic("pubkit", eventbus.AuctionPhaseBids, "div-1", 0)))
}

func TestFallbackSettlesUnresponsiveAdapter(t *testing.T) {
	stuck := stubAdapter("stuck")
	stuck.RequestBids = func(ctx context.Context, _ string, _ map[string]string, _ time.Duration) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, stuck)
	results := h.orchestrator.RequestAuction(ctx, "div-1", RequestOptions{})

	require.Len(t, results, 1)
	assert.False(t, results["stuck"].Success)
	assert.Contains(t, results["stuck"].Reason, "timed out")

	state, _ := h.orchestrator.State("div-1")
	assert.Equal(t, WrapperNoBid, state.Statuses["stuck"])

	assert.Len(t, h.bus.History(eventbus.AuctionTopic("stuck", eventbus.AuctionPhaseStart, "div-1", 0)), 1)
	assert.Len(t, h.bus.History(eventbus.AuctionTopic("stuck", eventbus.AuctionPhaseTimeout, "div-1", 0)), 1)
	assert.Empty(t, h.bus.History(eventbus.AuctionTopic("stuck", eventbus.AuctionPhaseBids, "div-1", 0)))
	assert.Empty(t, h.bus.History(eventbus.AuctionTopic("stuck", eventbus.AuctionPhaseNoBid, "div-1", 0)))
}

func TestFirstSettlementWins(t *testing.T) {
	release := make(chan struct{})
	slow := stubAdapter("slow")
	slow.RequestBids = func(context.Context, string, map[string]string, time.Duration) (*Result, error) {
		<-release
		return &Result{Success: true, Bids: []Bid{{Bidder: "late", HasBid: true}}}, nil
	}

	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, slow)
	results := h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	assert.False(t, results["slow"].Success, "fallback won")

	// The adapter finally resolves. Its result must be discarded, not applied.
	close(release)
	time.Sleep(30 * time.Millisecond)

	state, _ := h.orchestrator.State("div-1")
	assert.Equal(t, WrapperNoBid, state.Statuses["slow"])
	assert.Empty(t, state.Bids)
	assert.Empty(t, h.bus.History(eventbus.AuctionTopic("slow", eventbus.AuctionPhaseBids, "div-1", 0)))
}

func TestAdapterErrorBecomesNonBidResult(t *testing.T) {
	failing := stubAdapter("failing")
	failing.RequestBids = func(context.Context, string, map[string]string, time.Duration) (*Result, error) {
		return nil, errors.New("network unreachable")
	}
	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, failing)

	results := h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	assert.False(t, results["failing"].Success)
	assert.Contains(t, results["failing"].Reason, "network unreachable")
}

func TestAdapterNilResultBecomesNonBid(t *testing.T) {
	vague := stubAdapter("vague")
	vague.RequestBids = func(context.Context, string, map[string]string, time.Duration) (*Result, error) {
		return nil, nil
	}
	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, vague)

	results := h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	assert.Equal(t, "adapter returned no result", results["vague"].Reason)
}

func TestAdapterPanicIsIsolated(t *testing.T) {
	panicky := stubAdapter("panicky")
	panicky.RequestBids = func(context.Context, string, map[string]string, time.Duration) (*Result, error) {
		panic("boom")
	}
	healthy := biddingAdapter("healthy", Bid{Bidder: "rubicon", HasBid: true})

	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, panicky, healthy)
	results := h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})

	require.Len(t, results, 2)
	assert.False(t, results["panicky"].Success)
	assert.Contains(t, results["panicky"].Reason, "panic")
	assert.True(t, results["healthy"].Success, "one adapter's panic never fails the batch")
}

func TestEligibilityGates(t *testing.T) {
	disabled := stubAdapter("disabled")
	inactive := stubAdapter("inactive")
	waiting := stubAdapter("waiting")
	unloaded := stubAdapter("unloaded")
	unloaded.IsLibraryLoaded = func() bool { return false }
	unconfigured := stubAdapter("unconfigured")
	unconfigured.HasSlotConfig = func(string, map[string]string) bool { return false }

	partnersCfg := config.Partners{
		Independent: []config.Partner{
			{Name: "inactive", Active: false},
			{Name: "waiting", Active: true},
		},
	}
	h := newTestHarness(t, quickAuctionConfig(), partnersCfg, disabled, inactive, waiting, unloaded, unconfigured)
	h.orchestrator.adapterCfg["disabled"] = config.Adapter{Enabled: false}

	results := h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	assert.Equal(t, "adapter disabled by config", results["disabled"].Reason)
	assert.Equal(t, `partner "inactive" inactive`, results["inactive"].Reason)
	assert.Equal(t, "partner not ready", results["waiting"].Reason)
	assert.Equal(t, "library not loaded", results["unloaded"].Reason)
	assert.Equal(t, "no slot config for unit", results["unconfigured"].Reason)

	// Gated-out adapters never enter pending state, so no auction started.
	_, found := h.orchestrator.State("div-1")
	assert.False(t, found)
}

func TestGateOpensOnPartnerCompletion(t *testing.T) {
	partnersCfg := config.Partners{
		Independent: []config.Partner{{Name: "gated", Active: true}},
	}
	h := newTestHarness(t, quickAuctionConfig(), partnersCfg, biddingAdapter("gated", Bid{Bidder: "ix", HasBid: true}))

	results := h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	assert.Equal(t, "partner not ready", results["gated"].Reason)

	h.bus.Publish(eventbus.PartnerCompleteTopic("gated"), nil)
	results = h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	assert.True(t, results["gated"].Success)
}

func TestSharedUnitTimingIsStampedOnce(t *testing.T) {
	cfg := quickAuctionConfig()
	h := newTestHarness(t, cfg, config.Partners{},
		biddingAdapter("first"), biddingAdapter("second"))

	h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	state, found := h.orchestrator.State("div-1")
	require.True(t, found)
	firstStart := state.StartTime
	require.False(t, firstStart.IsZero())

	// A later round on the same live unit keeps the original start stamp.
	h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	state, _ = h.orchestrator.State("div-1")
	assert.Equal(t, firstStart, state.StartTime)
}

func TestTimeoutModifiersAreAdditive(t *testing.T) {
	cfg := config.Auction{
		BaseTimeoutMs:    50,
		FallbackBufferMs: 40,
		Dimensions:       []string{"device", "pageType"},
		TimeoutRules: []config.TimeoutRule{
			{Include: map[string][]string{"device": {"mobile"}}, ModifierMs: 30},
			{Include: map[string][]string{"pageType": {"article"}}, ModifierMs: 20},
			{Include: map[string][]string{"device": {"desktop"}}, ModifierMs: 500},
		},
	}
	h := newTestHarness(t, cfg, config.Partners{}, biddingAdapter("pubkit"))

	opts := RequestOptions{Context: map[string]string{"device": "mobile", "pageType": "article"}}
	h.orchestrator.RequestAuction(context.Background(), "div-1", opts)

	state, _ := h.orchestrator.State("div-1")
	assert.Equal(t, int64(100), state.TimeoutMs, "matching modifiers stack on the base, non-matching ones do not")
}

func TestBatchedRequestSuffixesTopics(t *testing.T) {
	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, biddingAdapter("pubkit"))

	h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{BatchCount: 3})
	assert.Len(t, h.bus.History("wrapper.pubkit.auction.start.div-1.3"), 1)
	assert.Empty(t, h.bus.History("wrapper.pubkit.auction.start.div-1"))
}

func TestApplyBidsTargetsWinnersOnly(t *testing.T) {
	var targeted []string
	winner := biddingAdapter("winner", Bid{Bidder: "appnexus", HasBid: true})
	winner.ApplyTargeting = func(unitID string) { targeted = append(targeted, "winner:"+unitID) }
	loser := stubAdapter("loser")
	loser.RequestBids = func(context.Context, string, map[string]string, time.Duration) (*Result, error) {
		return &Result{Success: true}, nil
	}
	loser.ApplyTargeting = func(string) { targeted = append(targeted, "loser") }

	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, winner, loser)
	h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	h.orchestrator.ApplyBids("div-1")

	assert.Equal(t, []string{"winner:div-1"}, targeted)
}

func TestClearAuctionArchivesState(t *testing.T) {
	var cleared []string
	adapter := biddingAdapter("pubkit", Bid{Bidder: "appnexus", HasBid: true})
	adapter.ClearSlot = func(unitID string) { cleared = append(cleared, unitID) }

	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, adapter)
	h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	h.orchestrator.ClearAuction("div-1")

	_, found := h.orchestrator.State("div-1")
	assert.False(t, found, "live state is gone")

	history := h.orchestrator.History("div-1")
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.False(t, history[0].ClearedAt.IsZero())
	assert.Equal(t, WrapperHadBid, history[0].State.Statuses["pubkit"])
	assert.Equal(t, []string{"div-1"}, cleared)

	// A fresh auction on the unit starts from a clean slate.
	h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	state, _ := h.orchestrator.State("div-1")
	assert.Len(t, state.Bids, 1)
	assert.Len(t, h.orchestrator.History("div-1"), 1)
}

func TestClearAuctionWithoutLiveStateIsNoop(t *testing.T) {
	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, biddingAdapter("pubkit"))
	h.orchestrator.ClearAuction("never-seen")
	assert.Empty(t, h.orchestrator.History("never-seen"))
}

func TestPruneArchiveDropsExpiredEntries(t *testing.T) {
	clock := timeutil.NewMockClockAt(time.Now())
	bus := eventbus.New()
	registry := NewRegistry(config.Partners{}, bus, metrics.NewNilMetrics())
	require.NoError(t, registry.Register(biddingAdapter("pubkit")))
	registry.InitAll(nil)
	o := NewOrchestrator(quickAuctionConfig(), map[string]config.Adapter{"pubkit": {Enabled: true}},
		registry, bus, metrics.NewNilMetrics(), clock, targeting.ExactMatchEvaluator{})

	o.RequestAuction(context.Background(), "div-1", RequestOptions{})
	o.ClearAuction("div-1")

	clock.Advance(5 * time.Minute)
	o.RequestAuction(context.Background(), "div-2", RequestOptions{})
	o.ClearAuction("div-2")

	assert.Equal(t, 1, o.PruneArchive(2*time.Minute), "only the older entry is expired")
	assert.Empty(t, o.History("div-1"))
	assert.Len(t, o.History("div-2"), 1)
}

func TestBidderTimingFallsBackToPayload(t *testing.T) {
	raw, err := json.Marshal(map[string]interface{}{"bidder": "openx", "cpm": 1.25})
	require.NoError(t, err)
	h := newTestHarness(t, quickAuctionConfig(), config.Partners{},
		biddingAdapter("pubkit", Bid{HasBid: true, Raw: raw}))

	h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	state, _ := h.orchestrator.State("div-1")
	require.Contains(t, state.BidderTiming, "openx", "bidder name recovered from the raw payload")
	assert.Greater(t, state.BidderTiming["openx"].RawMs, int64(-1), "elapsed time substituted for a missing response time")
}

func TestResetClearsEverything(t *testing.T) {
	h := newTestHarness(t, quickAuctionConfig(), config.Partners{}, biddingAdapter("pubkit"))
	h.orchestrator.RequestAuction(context.Background(), "div-1", RequestOptions{})
	h.orchestrator.ClearAuction("div-1")
	h.orchestrator.RequestAuction(context.Background(), "div-2", RequestOptions{})

	h.orchestrator.Reset()
	_, found := h.orchestrator.State("div-2")
	assert.False(t, found)
	assert.Empty(t, h.orchestrator.History("div-1"))
	assert.Equal(t, 0, h.registry.Len())
}
