package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshfed/gatewayd/pkg/engine"
	"github.com/meshfed/gatewayd/pkg/log"
	"github.com/meshfed/gatewayd/pkg/metrics"
)

// Server is the gateway's external HTTP surface: the local `/manage/*`
// administrative API and the public `/service/*` node-to-node API,
// both dispatched from a single mux over the wired Engine.
type Server struct {
	engine *engine.Engine
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer builds a Server and registers every route named in the
// specification's EXTERNAL INTERFACES section.
func NewServer(e *engine.Engine) *Server {
	mux := http.NewServeMux()
	s := &Server{
		engine: e,
		mux:    mux,
		logger: log.WithComponent("httpapi"),
	}

	mux.HandleFunc("GET /manage/networks", s.listNetworks)
	mux.HandleFunc("POST /manage/networks", s.createNetwork)
	mux.HandleFunc("GET /manage/networks/{id}", s.getNetwork)
	mux.HandleFunc("PATCH /manage/networks/{id}", s.updateNetwork)
	mux.HandleFunc("DELETE /manage/networks/{id}", s.deleteNetwork)
	mux.HandleFunc("POST /manage/networks/join", s.joinNetwork)
	mux.HandleFunc("POST /manage/networks/invite", s.inviteNode)
	mux.HandleFunc("GET /manage/requests", s.listRequests)
	mux.HandleFunc("PATCH /manage/requests/{id}", s.decideRequest)
	mux.HandleFunc("POST /manage/messages", s.sendMessage)

	mux.HandleFunc("GET /service/status", s.status)
	mux.HandleFunc("GET /service/challenge", s.challenge)
	mux.HandleFunc("GET /service/networks", s.visibleNetworks)
	mux.HandleFunc("POST /service/requests", s.handleRequest)
	mux.HandleFunc("POST /service/requests/{id}", s.pollRequest)
	mux.HandleFunc("POST /service/responses", s.handleResponseEnvelope)
	mux.HandleFunc("GET /service/websocket", e.Connection.ServeWebsocket)
	mux.HandleFunc("POST /service/event", e.Connection.ServeEvent)
	mux.HandleFunc("POST /service/message", e.Connection.ServeMessage)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	mux.HandleFunc("GET /live", metrics.LivenessHandler())

	return s
}

// Handler returns the mux for embedding in another server or for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start blocks serving addr, the way pkg/api's HealthServer.Start does.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /service/websocket and /service/event are long-lived
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("httpapi listening")
	return server.ListenAndServe()
}
