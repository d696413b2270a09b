package auction

import (
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/pubkit/adcoord/config"
	"github.com/pubkit/adcoord/errortypes"
	"github.com/pubkit/adcoord/eventbus"
	"github.com/pubkit/adcoord/metrics"
)

// PartnerLink is the explicit, validated join between an adapter and a
// configured partner, resolved once at registration. An adapter with no
// matching partner runs without readiness gating; one linked to an inactive
// partner is registered but treated as disabled.
type PartnerLink struct {
	PartnerName string
	Found       bool
	Active      bool
}

type registration struct {
	adapter     Adapter
	link        PartnerLink
	initialized bool
}

// Registry validates and stores adapters and tracks which linked partners
// have emitted their completion signal. Registration is two-phase: Register
// stores the adapter, and ensureInitialized runs its Init exactly once —
// either during InitAll or as catch-up when an adapter registers late.
type Registry struct {
	partners config.Partners
	bus      *eventbus.Bus
	me       metrics.MetricsEngine

	mu           sync.Mutex
	entries      map[string]*registration
	partnerReady map[string]bool
	subscribed   map[string]bool
	bulkInitDone bool
	pageContext  map[string]string
	subs         []*eventbus.Subscription
}

func NewRegistry(partners config.Partners, bus *eventbus.Bus, me metrics.MetricsEngine) *Registry {
	return &Registry{
		partners:     partners,
		bus:          bus,
		me:           me,
		entries:      make(map[string]*registration),
		partnerReady: make(map[string]bool),
		subscribed:   make(map[string]bool),
	}
}

// Register validates the adapter's capability contract and stores it. On
// contract violation the adapter is discarded whole — no partial
// registration — and the enumerated missing operations are logged and
// returned. Re-registering a name replaces the previous adapter with a
// warning.
func (r *Registry) Register(adapter Adapter) error {
	if missing := adapter.validate(); len(missing) > 0 {
		violation := &errortypes.AdapterContractViolation{Adapter: adapter.Name, Missing: missing}
		glog.Error(violation.Error())
		r.me.RecordAdapterRegistration(adapter.Name, false)
		return violation
	}

	link := PartnerLink{PartnerName: adapter.Name}
	if partner, found := r.partners.PartnerByName(adapter.Name); found {
		link.Found = true
		link.Active = partner.Active
	}

	r.mu.Lock()
	if _, replaced := r.entries[adapter.Name]; replaced {
		glog.Warningf("adapter %q already registered; replacing with the newer registration", adapter.Name)
	}
	r.entries[adapter.Name] = &registration{adapter: adapter, link: link}
	needSubscribe := link.Found && link.Active && !r.subscribed[link.PartnerName]
	if needSubscribe {
		r.subscribed[link.PartnerName] = true
	}
	catchUp := r.bulkInitDone
	pageContext := r.pageContext
	r.mu.Unlock()

	r.me.RecordAdapterRegistration(adapter.Name, true)

	switch {
	case !link.Found:
		glog.Warning((&errortypes.PartnerLinkage{Adapter: adapter.Name}).Error())
	case !link.Active:
		// linked partner exists but is inactive: registered, treated as disabled
	default:
		if needSubscribe {
			partner := link.PartnerName
			sub := r.bus.SubscribeWithReplay(eventbus.PartnerCompleteTopic(partner), func(eventbus.Event) {
				r.mu.Lock()
				r.partnerReady[partner] = true
				r.mu.Unlock()
			})
			r.mu.Lock()
			r.subs = append(r.subs, sub)
			r.mu.Unlock()
		}
	}

	if catchUp {
		// the bulk init has already run; bring this late arrival up to speed
		r.ensureInitialized(adapter.Name, pageContext)
	}
	return nil
}

// InitAll runs the idempotent ensure-initialized phase over every registered
// adapter and records the page context so later registrations catch up with
// the same one.
func (r *Registry) InitAll(pageContext map[string]string) {
	r.mu.Lock()
	r.bulkInitDone = true
	r.pageContext = pageContext
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.ensureInitialized(name, pageContext)
	}
}

func (r *Registry) ensureInitialized(name string, pageContext map[string]string) {
	r.mu.Lock()
	entry, found := r.entries[name]
	if !found || entry.initialized {
		r.mu.Unlock()
		return
	}
	entry.initialized = true
	initFn := entry.adapter.Init
	r.mu.Unlock()

	if err := initFn(pageContext); err != nil {
		glog.Errorf("adapter %q init failed: %v", name, err)
	}
}

// PartnerReady reports whether the adapter's readiness gate passes: linked
// partner completed, or no partner to wait on at all. An adapter linked to an
// inactive partner never passes.
func (r *Registry) PartnerReady(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, found := r.entries[name]
	if !found {
		return false
	}
	if !entry.link.Found {
		return true
	}
	if !entry.link.Active {
		return false
	}
	return r.partnerReady[entry.link.PartnerName]
}

// Link returns the adapter's resolved partner link.
func (r *Registry) Link(name string) (PartnerLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, found := r.entries[name]
	if !found {
		return PartnerLink{}, false
	}
	return entry.link, true
}

// Adapters returns the registered adapters in name order.
func (r *Registry) Adapters() []Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Adapter, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.adapter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a registered adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, found := r.entries[name]
	if !found {
		return Adapter{}, false
	}
	return entry.adapter, true
}

// Len reports the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset drops all registrations, readiness bookkeeping, and subscriptions.
func (r *Registry) Reset() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.entries = make(map[string]*registration)
	r.partnerReady = make(map[string]bool)
	r.subscribed = make(map[string]bool)
	r.bulkInitDone = false
	r.pageContext = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
