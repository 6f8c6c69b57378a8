package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/membrane/compartment"
	"github.com/chazu/membrane/vm"
)

var log = commonlog.GetLogger("membrane.server")

// exit terminates the process after a contract violation. Tests replace it.
var exit = os.Exit

// MembraneServer serves the inspection service for a running runtime.
// It serves both gRPC (binary protobuf) and Connect (HTTP/JSON) on the
// same port, with HTTP/2 over cleartext for gRPC clients.
type MembraneServer struct {
	owner   *Owner
	sweeper *compartment.Sweeper
	audit   *AuditLog
	mux     *http.ServeMux
	httpSrv *http.Server
}

// ServerOption configures a MembraneServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	sweepInterval time.Duration
	audit         *AuditLog
}

// WithSweepInterval sets how often wrapper caches are swept. Zero disables
// periodic sweeping; the Sweep procedure still works.
func WithSweepInterval(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.sweepInterval = d }
}

// WithAuditLog records nukes and sweeps to audit. The server closes it on
// Stop.
func WithAuditLog(audit *AuditLog) ServerOption {
	return func(c *serverConfig) { c.audit = audit }
}

// New creates a MembraneServer owning rt. The caller must not touch rt's
// compartments directly afterwards; use Owner().Do.
func New(rt *compartment.Runtime, opts ...ServerOption) *MembraneServer {
	cfg := &serverConfig{sweepInterval: compartment.DefaultSweepInterval}
	for _, opt := range opts {
		opt(cfg)
	}

	owner := NewOwner(rt)
	s := &MembraneServer{
		owner: owner,
		audit: cfg.audit,
		mux:   http.NewServeMux(),
	}
	if cfg.sweepInterval > 0 {
		s.sweeper = compartment.NewSweeper(rt, cfg.sweepInterval, owner.Exec)
		s.sweeper.Start()
	}

	inspectPath, inspectHandler := NewInspectService(owner, s.sweeper, cfg.audit).Handler()
	s.mux.Handle(inspectPath, fatalOnViolation(inspectHandler))
	return s
}

// Owner returns the worker that owns the runtime.
func (s *MembraneServer) Owner() *Owner { return s.owner }

// Handler returns the server's root handler.
func (s *MembraneServer) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *MembraneServer) ListenAndServe(addr string) error {
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.httpSrv = &http.Server{
		Addr:      addr,
		Handler:   s.mux,
		Protocols: protocols,
	}
	log.Infof("membrane inspection server listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, ListCompartmentsProcedure)
	log.Infof("  gRPC (binary):       grpc://%s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts down the HTTP server and sweeper, then the owner.
func (s *MembraneServer) Stop() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			log.Warningf("shutdown: %s", err)
		}
		cancel()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.owner.Stop()
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			log.Warningf("closing audit log: %s", err)
		}
	}
}

// fatalOnViolation stops net/http from recovering a contract violation
// into a dropped connection. A violation is a bug in the runtime's caller
// and ends the process.
func fatalOnViolation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if vm.IsContractViolation(rec) {
					log.Criticalf("contract violation serving %s: %v", r.URL.Path, rec)
					exit(2)
					return
				}
				panic(rec)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
