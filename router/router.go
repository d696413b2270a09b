package router

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/pubkit/adcoord/auction"
	"github.com/pubkit/adcoord/endpoints"
	"github.com/pubkit/adcoord/partners"
)

type Router struct {
	*httprouter.Router
}

// New wires the read-only introspection endpoints. Nothing served here
// mutates orchestrator state.
func New(po *partners.Orchestrator, ao *auction.Orchestrator) *Router {
	r := &Router{httprouter.New()}
	r.GET("/status", endpoints.NewStatusEndpoint())
	r.GET("/status/partners", endpoints.NewPartnerStatusEndpoint(po))
	r.GET("/status/auctions/:unitId", endpoints.NewAuctionStateEndpoint(ao))
	r.GET("/status/auctions/:unitId/history", endpoints.NewAuctionHistoryEndpoint(ao))
	return r
}

// SupportCORS wraps the handler with a permissive CORS policy for in-page
// debugging tools.
func SupportCORS(handler http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowCredentials: true,
		AllowOriginFunc:  func(string) bool { return true },
		AllowedHeaders:   []string{"Origin", "X-Requested-With", "Content-Type", "Accept"},
	})
	return c.Handler(handler)
}
