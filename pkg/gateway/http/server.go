// Package http is a read-only-by-default HTTP introspection gateway over
// a running master: domain health (working counter / wc_state), per-slave
// FSM state, and SDO request submission (spec §6 supplemented features).
//
// Grounded on the teacher's pkg/gateway/http: a net/http.ServeMux wired to
// handler methods on a server struct (no router dependency), JSON
// request/response bodies via encoding/json, constructor-injected
// *slog.Logger. The CiA 309-5 URI grammar and sequence-number envelope
// are CANopen-gateway-specific and have no EtherCAT equivalent to adapt,
// so routes here are plain REST paths instead (see DESIGN.md).
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/samsamfire/goethercat/pkg/master"
)

var (
	reDomains    = regexp.MustCompile(`^/domains/?$`)
	reDomainByNb = regexp.MustCompile(`^/domains/(\d+)$`)
	reSlaves     = regexp.MustCompile(`^/slaves/?$`)
	reSlaveByID  = regexp.MustCompile(`^/slaves/(0x[0-9a-fA-F]+|\d+)$`)
	reSlaveSDO   = regexp.MustCompile(`^/slaves/(0x[0-9a-fA-F]+|\d+)/sdo$`)
)

// Server exposes introspection and request-submission endpoints over a
// master. Routing is a single "/" handler dispatching on regex-matched
// paths, the same style as the teacher's gateway (one catch-all
// ServeMux entry, since net/http's built-in mux gained method/wildcard
// patterns only after this module's Go floor).
type Server struct {
	master *master.Master
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds a gateway server around m. logger defaults to slog.Default().
func New(m *master.Master, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "[HTTP]")
	s := &Server{master: m, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.route)

	s.logger.Info("initialized introspection gateway")
	return s
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && reDomains.MatchString(path):
		s.handleListDomains(w, r)
	case r.Method == http.MethodGet && reDomainByNb.MatchString(path):
		s.handleGetDomain(w, r, reDomainByNb.FindStringSubmatch(path)[1])
	case r.Method == http.MethodGet && reSlaves.MatchString(path):
		s.handleListSlaves(w, r)
	case r.Method == http.MethodPost && reSlaveSDO.MatchString(path):
		s.handleSubmitSDO(w, r, reSlaveSDO.FindStringSubmatch(path)[1])
	case r.Method == http.MethodGet && reSlaveByID.MatchString(path):
		s.handleGetSlave(w, r, reSlaveByID.FindStringSubmatch(path)[1])
	default:
		s.writeError(w, http.StatusNotFound, "no such route")
	}
}

// ListenAndServe runs the gateway, blocking.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
