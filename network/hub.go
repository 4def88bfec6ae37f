// Package network provides point to point sessions between parties of an
// in-process network. Every endpoint is an actor; payloads cross the
// boundary cbor encoded.
package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/AsynkronIT/protoactor-go/actor"
	logging "github.com/ipfs/go-log"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

var logger = logging.Logger("network")

// DefaultHandlerTimeout bounds how long an inbound session handler may run.
const DefaultHandlerTimeout = 30 * time.Second

// Hub routes envelopes between the endpoints registered with it.
type Hub struct {
	lock      sync.RWMutex
	endpoints map[identity.Name]*Endpoint

	rootContext    *actor.RootContext
	handlerTimeout time.Duration
}

type HubOption func(*Hub)

// WithHandlerTimeout changes DefaultHandlerTimeout for every endpoint of the hub.
func WithHandlerTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.handlerTimeout = d
	}
}

// WithRootContext spawns endpoints from rc instead of actor.EmptyRootContext.
func WithRootContext(rc *actor.RootContext) HubOption {
	return func(h *Hub) {
		h.rootContext = rc
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		endpoints:      make(map[identity.Name]*Endpoint),
		rootContext:    actor.EmptyRootContext,
		handlerTimeout: DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewEndpoint starts the endpoint for name. Names are unique per hub.
func (h *Hub) NewEndpoint(name identity.Name) (*Endpoint, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.endpoints[name]; ok {
		return nil, fmt.Errorf("endpoint %s already exists", name)
	}
	e := newEndpoint(h, name)
	e.pid = h.rootContext.Spawn(actor.PropsFromFunc(e.Receive))
	h.endpoints[name] = e
	logger.Debugf("endpoint %s started: %s", name, e.pid.Id)
	return e, nil
}

func (h *Hub) endpoint(name identity.Name) (*Endpoint, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	e, ok := h.endpoints[name]
	return e, ok
}

func (h *Hub) remove(name identity.Name) {
	h.lock.Lock()
	delete(h.endpoints, name)
	h.lock.Unlock()
}

func (h *Hub) deliver(env *envelope) error {
	to, ok := h.endpoint(env.To)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParty, env.To)
	}
	h.rootContext.Send(to.pid, env)
	return nil
}
