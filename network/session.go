package network

import (
	"context"
	"fmt"
	"sync"

	cbornode "github.com/ipfs/go-ipld-cbor"
	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

// Session is an ordered, bidirectional conversation between two endpoints.
type Session struct {
	id           string
	protocol     string
	local        *Endpoint
	counterparty identity.Name

	lock   sync.Mutex
	queue  []*envelope
	notify chan struct{}
	closed bool
}

func newSession(local *Endpoint, id, protocol string, counterparty identity.Name) *Session {
	return &Session{
		id:           id,
		protocol:     protocol,
		local:        local,
		counterparty: counterparty,
		notify:       make(chan struct{}, 1),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Protocol() string {
	return s.protocol
}

func (s *Session) Counterparty() identity.Name {
	return s.counterparty
}

func (s *Session) enqueue(env *envelope) {
	s.lock.Lock()
	s.queue = append(s.queue, env)
	s.lock.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) next(ctx context.Context) (*envelope, error) {
	for {
		s.lock.Lock()
		if len(s.queue) > 0 {
			env := s.queue[0]
			s.queue = s.queue[1:]
			s.lock.Unlock()
			return env, nil
		}
		s.lock.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, fmt.Errorf("error waiting for %s on session %s: %w", s.counterparty, s.id, ctx.Err())
		}
	}
}

func (s *Session) deliver(ctx context.Context, env *envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	closed := s.closed
	s.lock.Unlock()
	if closed {
		return fmt.Errorf("session %s already closed", s.id)
	}
	return s.local.hub.deliver(s.stamp(env))
}

func (s *Session) stamp(env *envelope) *envelope {
	env.SessionID = s.id
	env.Protocol = s.protocol
	env.From = s.local.name
	env.To = s.counterparty
	return env
}

// Send encodes payload and sends it to the counterparty.
func (s *Session) Send(ctx context.Context, payload interface{}) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "network.Send")
	defer sp.Finish()

	bits, err := cbornode.DumpObject(payload)
	if err != nil {
		return fmt.Errorf("error encoding payload: %w", err)
	}
	return s.deliver(ctx, &envelope{Kind: kindData, Payload: bits})
}

// Receive waits for the next message and decodes it into out. A failure
// reported by the counterparty is returned as a *SessionError.
func (s *Session) Receive(ctx context.Context, out interface{}) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "network.Receive")
	defer sp.Finish()

	env, err := s.next(ctx)
	if err != nil {
		return err
	}
	switch env.Kind {
	case kindData:
		if err := cbornode.DecodeInto(env.Payload, out); err != nil {
			return fmt.Errorf("error decoding payload: %w", err)
		}
		return nil
	case kindError:
		return decodeError(env.Code, env.Message, env.Detail)
	case kindClose:
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected envelope kind %d", env.Kind)
	}
}

func (s *Session) SendAndReceive(ctx context.Context, payload interface{}, out interface{}) error {
	if err := s.Send(ctx, payload); err != nil {
		return err
	}
	return s.Receive(ctx, out)
}

// SendError reports err to the counterparty, keeping its type when it is a
// registered CodedError.
func (s *Session) SendError(ctx context.Context, err error) error {
	code, detail := encodeError(err)
	return s.deliver(ctx, &envelope{
		Kind:    kindError,
		Code:    code,
		Message: err.Error(),
		Detail:  detail,
	})
}

// Close tells the counterparty the session is over. It is safe to call twice.
func (s *Session) Close() {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.closed = true
	s.lock.Unlock()

	// the counterparty may already be gone
	if err := s.local.hub.deliver(s.stamp(&envelope{Kind: kindClose})); err != nil {
		s.local.logger.Debugf("error closing %s: %v", s.id, err)
	}
	s.local.hub.rootContext.Send(s.local.pid, &closeSession{id: s.id})
}
