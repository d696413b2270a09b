package eventbus

import (
	"fmt"
	"strconv"
)

// Topic names are part of the wire contract with independently-written
// adapters, so they are derived here and nowhere else.
const (
	TopicPartnersReady      = "loader.partners.ready"
	TopicAdsReady           = "loader.ads.ready"
	TopicIndependentTimeout = "loader.partners.independent.timeout"
	TopicNonCoreReady       = "loader.partners.nonCore.ready"
)

// Auction lifecycle phases used in per-unit wrapper topics.
const (
	AuctionPhaseStart   = "start"
	AuctionPhaseBids    = "bids"
	AuctionPhaseNoBid   = "nobid"
	AuctionPhaseTimeout = "timeout"
)

// PartnerCompleteTopic derives the completion topic for a partner.
func PartnerCompleteTopic(partner string) string {
	return "plugin." + partner + ".complete"
}

// PartnerTimeoutTopic derives the per-partner diagnostic topic published when
// the blocking tier's timeout fires with the partner still pending.
func PartnerTimeoutTopic(partner string) string {
	return "loader.partner." + partner + ".timeout"
}

// AuctionTopic derives a per-unit, per-adapter auction lifecycle topic.
// When batch > 1 (several units of work requested together) the batch count
// is appended as a trailing ".N" suffix.
func AuctionTopic(adapter, phase, unitID string, batch int) string {
	topic := fmt.Sprintf("wrapper.%s.auction.%s.%s", adapter, phase, unitID)
	if batch > 1 {
		topic += "." + strconv.Itoa(batch)
	}
	return topic
}
