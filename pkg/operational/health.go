package operational

import (
	"context"
	"errors"
	"net/http"

	"github.com/heptiolabs/healthcheck"
	log "github.com/sirupsen/logrus"
)

// Server exposes /live and /ready.
type Server struct {
	srv     *http.Server
	handler healthcheck.Handler
}

// NewHealthServer builds a health server on address. It does not listen
// until Serve is called.
func NewHealthServer(address string, isAlive, isReady healthcheck.Check) *Server {
	handler := healthcheck.NewHandler()
	handler.AddLivenessCheck("EngineCheck", isAlive)
	handler.AddReadinessCheck("BaselineCheck", isReady)

	return &Server{
		srv:     &http.Server{Addr: address, Handler: handler},
		handler: handler,
	}
}

// Addr returns the listen address.
func (hs *Server) Addr() string {
	return hs.srv.Addr
}

// Handler returns the health handler, for mounting or testing.
func (hs *Server) Handler() http.Handler {
	return hs.handler
}

// Serve blocks until the server is shut down.
func (hs *Server) Serve() error {
	log.WithField("address", hs.srv.Addr).Info("health server listening")
	if err := hs.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("health server error %v", err)
		return err
	}
	return nil
}

// Shutdown stops the server.
func (hs *Server) Shutdown(ctx context.Context) error {
	return hs.srv.Shutdown(ctx)
}
