package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubkit/adcoord/config"
	"github.com/pubkit/adcoord/errortypes"
	"github.com/pubkit/adcoord/eventbus"
	"github.com/pubkit/adcoord/metrics"
)

func stubAdapter(name string) Adapter {
	return Adapter{
		Name:            name,
		IsLibraryLoaded: func() bool { return true },
		Init:            func(map[string]string) error { return nil },
		HasSlotConfig:   func(string, map[string]string) bool { return true },
		RequestBids: func(context.Context, string, map[string]string, time.Duration) (*Result, error) {
			return &Result{Success: true}, nil
		},
		ApplyTargeting: func(string) {},
	}
}

func TestRegisterRejectsMissingCapabilities(t *testing.T) {
	r := NewRegistry(config.Partners{}, eventbus.New(), metrics.NewNilMetrics())

	broken := stubAdapter("amazon")
	broken.RequestBids = nil
	broken.ApplyTargeting = nil

	err := r.Register(broken)
	require.Error(t, err)
	violation, ok := err.(*errortypes.AdapterContractViolation)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"requestBids", "applyTargeting"}, violation.Missing)
	assert.Equal(t, 0, r.Len(), "no partial registration")
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := NewRegistry(config.Partners{}, eventbus.New(), metrics.NewNilMetrics())
	err := r.Register(stubAdapter(""))
	require.Error(t, err)
	assert.Contains(t, err.(*errortypes.AdapterContractViolation).Missing, "name")
	assert.Equal(t, 0, r.Len())
}

func TestRegisterLastRegistrationWins(t *testing.T) {
	r := NewRegistry(config.Partners{}, eventbus.New(), metrics.NewNilMetrics())

	first := stubAdapter("amazon")
	first.HasSlotConfig = func(string, map[string]string) bool { return false }
	second := stubAdapter("amazon")

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))
	assert.Equal(t, 1, r.Len())

	got, found := r.Get("amazon")
	require.True(t, found)
	assert.True(t, got.HasSlotConfig("u1", nil), "the newer registration replaced the older one")
}

func TestRegisterWithoutMatchingPartnerIsUngated(t *testing.T) {
	r := NewRegistry(config.Partners{}, eventbus.New(), metrics.NewNilMetrics())
	require.NoError(t, r.Register(stubAdapter("amazon")))

	link, found := r.Link("amazon")
	require.True(t, found)
	assert.False(t, link.Found)
	assert.True(t, r.PartnerReady("amazon"), "no partner to wait on")
}

func TestRegisterInactivePartnerIsDisabled(t *testing.T) {
	partnersCfg := config.Partners{
		Independent: []config.Partner{{Name: "amazon", Active: false}},
	}
	bus := eventbus.New()
	r := NewRegistry(partnersCfg, bus, metrics.NewNilMetrics())
	require.NoError(t, r.Register(stubAdapter("amazon")))

	link, _ := r.Link("amazon")
	assert.True(t, link.Found)
	assert.False(t, link.Active)
	assert.False(t, r.PartnerReady("amazon"))

	// even a completion signal does not enable a disabled partner
	bus.Publish(eventbus.PartnerCompleteTopic("amazon"), nil)
	assert.False(t, r.PartnerReady("amazon"))
}

func TestPartnerReadyTracksCompletionSignal(t *testing.T) {
	partnersCfg := config.Partners{
		Independent: []config.Partner{{Name: "amazon", Active: true}},
	}
	bus := eventbus.New()
	r := NewRegistry(partnersCfg, bus, metrics.NewNilMetrics())
	require.NoError(t, r.Register(stubAdapter("amazon")))

	assert.False(t, r.PartnerReady("amazon"))
	bus.Publish(eventbus.PartnerCompleteTopic("amazon"), nil)
	assert.True(t, r.PartnerReady("amazon"))
}

func TestPartnerCompletionBeforeRegistrationIsReplayed(t *testing.T) {
	partnersCfg := config.Partners{
		Independent: []config.Partner{{Name: "amazon", Active: true}},
	}
	bus := eventbus.New()
	bus.Publish(eventbus.PartnerCompleteTopic("amazon"), nil)

	r := NewRegistry(partnersCfg, bus, metrics.NewNilMetrics())
	require.NoError(t, r.Register(stubAdapter("amazon")))
	assert.True(t, r.PartnerReady("amazon"))
}

func TestInitAllRunsEachAdapterOnce(t *testing.T) {
	r := NewRegistry(config.Partners{}, eventbus.New(), metrics.NewNilMetrics())

	inits := 0
	a := stubAdapter("amazon")
	a.Init = func(map[string]string) error { inits++; return nil }
	require.NoError(t, r.Register(a))

	r.InitAll(nil)
	r.InitAll(nil)
	assert.Equal(t, 1, inits, "ensure-initialized is idempotent")
}

func TestLateRegistrationCatchesUpInitialization(t *testing.T) {
	r := NewRegistry(config.Partners{}, eventbus.New(), metrics.NewNilMetrics())
	r.InitAll(map[string]string{"pageType": "article"})

	var gotCtx map[string]string
	late := stubAdapter("late")
	late.Init = func(pageContext map[string]string) error {
		gotCtx = pageContext
		return nil
	}
	require.NoError(t, r.Register(late))

	assert.Equal(t, "article", gotCtx["pageType"], "late adapter initialized immediately with the bulk-init context")
}

func TestResetClearsRegistrations(t *testing.T) {
	partnersCfg := config.Partners{
		Independent: []config.Partner{{Name: "amazon", Active: true}},
	}
	bus := eventbus.New()
	r := NewRegistry(partnersCfg, bus, metrics.NewNilMetrics())
	require.NoError(t, r.Register(stubAdapter("amazon")))
	bus.Publish(eventbus.PartnerCompleteTopic("amazon"), nil)

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.PartnerReady("amazon"))
}
