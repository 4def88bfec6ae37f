package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/AsynkronIT/protoactor-go/actor"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/tracing"
)

type envelopeKind int

const (
	kindOpen envelopeKind = iota
	kindData
	kindError
	kindClose
)

const unknownProtocolCode = "unknown-protocol"

type envelope struct {
	SessionID string
	Protocol  string
	From      identity.Name
	To        identity.Name
	Kind      envelopeKind
	Payload   []byte

	// open envelopes only
	Trace map[string]string

	// error envelopes only
	Code    string
	Message string
	Detail  []byte
}

type registerSession struct {
	session *Session
}

type closeSession struct {
	id string
}

// Handler serves one inbound session. Returning an error sends it to the
// counterparty; the session is closed once the handler returns.
type Handler func(ctx context.Context, s *Session) error

// Endpoint is one party's attachment to the hub.
type Endpoint struct {
	name identity.Name
	hub  *Hub
	pid  *actor.PID

	handlersLock sync.RWMutex
	handlers     map[string]Handler

	// only touched by the actor
	sessions map[string]*Session

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	logger   logging.EventLogger
}

func newEndpoint(h *Hub, name identity.Name) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		name:     name,
		hub:      h,
		handlers: make(map[string]Handler),
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.Logger("endpoint"),
	}
}

func (e *Endpoint) Name() identity.Name {
	return e.name
}

// Handle registers h for inbound sessions of protocol.
func (e *Endpoint) Handle(protocol string, h Handler) {
	e.handlersLock.Lock()
	defer e.handlersLock.Unlock()
	e.handlers[protocol] = h
}

func (e *Endpoint) handler(protocol string) (Handler, bool) {
	e.handlersLock.RLock()
	defer e.handlersLock.RUnlock()
	h, ok := e.handlers[protocol]
	return h, ok
}

// OpenSession starts a session with party speaking protocol.
func (e *Endpoint) OpenSession(ctx context.Context, party identity.Name, protocol string) (*Session, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "network.OpenSession")
	defer sp.Finish()
	sp.SetTag("protocol", protocol)

	if party == e.name {
		return nil, fmt.Errorf("cannot open a session with ourselves")
	}
	if _, ok := e.hub.endpoint(party); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParty, party)
	}

	s := newSession(e, uuid.New().String(), protocol, party)
	_, err := e.hub.rootContext.RequestFuture(e.pid, &registerSession{session: s}, e.hub.handlerTimeout).Result()
	if err != nil {
		return nil, fmt.Errorf("error registering session: %w", err)
	}
	if err := s.deliver(ctx, &envelope{Kind: kindOpen, Trace: tracing.SerializedContext(ctx)}); err != nil {
		e.hub.rootContext.Send(e.pid, &closeSession{id: s.id})
		return nil, err
	}
	e.logger.Debugf("%s opened %s session %s with %s", e.name, protocol, s.id, party)
	return s, nil
}

// Stop closes the endpoint and cancels every running handler. It is safe
// to call more than once.
func (e *Endpoint) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.hub.remove(e.name)
		e.hub.rootContext.Poison(e.pid)
	})
}

func (e *Endpoint) Receive(actorContext actor.Context) {
	switch msg := actorContext.Message().(type) {
	case *registerSession:
		e.sessions[msg.session.id] = msg.session
		actorContext.Respond(true)
	case *closeSession:
		delete(e.sessions, msg.id)
	case *envelope:
		e.handleEnvelope(msg)
	}
}

func (e *Endpoint) handleEnvelope(env *envelope) {
	if env.Kind == kindOpen {
		e.handleOpen(env)
		return
	}
	s, ok := e.sessions[env.SessionID]
	if !ok {
		e.logger.Debugf("%s dropping message for unknown session %s", e.name, env.SessionID)
		return
	}
	if env.Kind == kindClose {
		delete(e.sessions, env.SessionID)
	}
	s.enqueue(env)
}

func (e *Endpoint) handleOpen(env *envelope) {
	h, ok := e.handler(env.Protocol)
	if !ok {
		e.logger.Warningf("%s has no handler for %s", e.name, env.Protocol)
		reply := &envelope{
			SessionID: env.SessionID,
			Protocol:  env.Protocol,
			From:      e.name,
			To:        env.From,
			Kind:      kindError,
			Code:      unknownProtocolCode,
			Message:   fmt.Sprintf("%s does not speak %s", e.name, env.Protocol),
		}
		if err := e.hub.deliver(reply); err != nil {
			e.logger.Warningf("error replying to %s: %v", env.From, err)
		}
		return
	}

	s := newSession(e, env.SessionID, env.Protocol, env.From)
	e.sessions[s.id] = s
	go e.serve(h, s, env.Trace)
}

// runHandler turns a panicking handler into an error for the counterparty.
func runHandler(ctx context.Context, h Handler, s *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panicked: %v", s.protocol, r)
		}
	}()
	return h(ctx, s)
}

func (e *Endpoint) serve(h Handler, s *Session, trace map[string]string) {
	ctx, cancel := context.WithTimeout(e.ctx, e.hub.handlerTimeout)
	defer cancel()

	sp, ctx := tracing.StartSpanFromSerialized(ctx, trace, "network.serve")
	sp.SetTag("protocol", s.protocol)
	defer sp.Finish()

	err := runHandler(ctx, h, s)
	if err != nil {
		e.logger.Infof("%s handler for %s from %s failed: %v", s.protocol, s.id, s.counterparty, err)
		// ctx may be what failed the handler
		if sendErr := s.SendError(context.Background(), err); sendErr != nil {
			e.logger.Warningf("error sending failure to %s: %v", s.counterparty, sendErr)
		}
	}
	s.Close()
}
