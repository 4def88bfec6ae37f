// Package rpcserver exposes the flows and the BNO's membership service of an
// in-process network over HTTP.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log"

	"github.com/aelahi23/Corda-BNO-membership/authz"
	"github.com/aelahi23/Corda-BNO-membership/flows"
	"github.com/aelahi23/Corda-BNO-membership/funding"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/node"
)

var logger = logging.Logger("rpcserver")

// NodeSource finds running nodes by name. *nodebuilder.NodeBuilder is one.
type NodeSource interface {
	Node(name identity.Name) (*node.Node, bool)
}

type Server struct {
	nodes  NodeSource
	router *mux.Router
	srv    *http.Server
}

func NewServer(nodes NodeSource) *Server {
	s := &Server{nodes: nodes}
	r := mux.NewRouter()

	r.HandleFunc("/nodes/{node}/assets", s.issueHandler).Methods("POST")
	r.HandleFunc("/nodes/{node}/assets", s.assetsHandler).Methods("GET")
	r.HandleFunc("/nodes/{node}/transfers", s.transferHandler).Methods("POST")
	r.HandleFunc("/nodes/{node}/membership", s.requestMembershipHandler).Methods("POST")
	r.HandleFunc("/nodes/{node}/config/reload", s.reloadHandler).Methods("POST")
	r.HandleFunc("/nodes/{node}/flows/{id}", s.flowHandler).Methods("GET")

	r.HandleFunc("/bno/{node}/memberships", s.membershipsHandler).Methods("GET")
	r.HandleFunc("/bno/{node}/memberships/{party}/{action}", s.membershipActionHandler).Methods("POST")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods("GET")

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("error shutting down: %v", err)
		}
	}()
	logger.Infof("rpc server listening on %s", addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warningf("error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		resp.Code = coded.Code()
	}
	writeJSON(w, status, resp)
}

// statusFor maps flow and membership failures onto http statuses.
func statusFor(err error) int {
	var (
		untrusted *authz.UntrustedBNOError
		unknown   *flows.UnknownCounterpartyError
		rejected  *flows.CounterpartySignatureRejectedError
		notOwner  *flows.NotOwnerError
		self      *flows.SelfTransferError
		funds     *funding.InsufficientFundsError
	)
	switch {
	case errors.As(err, &untrusted), errors.As(err, &unknown), errors.As(err, &rejected):
		return http.StatusForbidden
	case errors.As(err, &notOwner), errors.As(err, &self), errors.As(err, &funds):
		return http.StatusBadRequest
	case errors.Is(err, membership.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, membership.ErrNotAMember):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) node(w http.ResponseWriter, r *http.Request) (*node.Node, bool) {
	name := identity.Name(mux.Vars(r)["node"])
	n, ok := s.nodes.Node(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no node named %s", name))
		return nil, false
	}
	return n, true
}

// party returns the named node when it runs flows.
func (s *Server) party(w http.ResponseWriter, r *http.Request) (*node.Node, bool) {
	n, ok := s.node(w, r)
	if !ok {
		return nil, false
	}
	if n.Flows() == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s is not a party", n.Name()))
		return nil, false
	}
	return n, true
}

// bno returns the named node when it runs the membership service.
func (s *Server) bno(w http.ResponseWriter, r *http.Request) (*node.Node, bool) {
	n, ok := s.node(w, r)
	if !ok {
		return nil, false
	}
	if n.Membership() == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s is not a BNO", n.Name()))
		return nil, false
	}
	return n, true
}

// flowContext tags the request's flow with the X-Flow-Id header when present.
func flowContext(r *http.Request) context.Context {
	ctx := r.Context()
	if id := r.Header.Get("X-Flow-Id"); id != "" {
		ctx = flows.WithFlowID(ctx, id)
	}
	return ctx
}
