package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

var logger = logging.Logger("membership")

var (
	ErrInvalidTransition = errors.New("invalid membership transition")
	ErrNotAMember        = errors.New("no membership record")
)

// ApprovalPolicy decides what happens to a new membership request.
type ApprovalPolicy string

const (
	ApproveManually ApprovalPolicy = "manual"
	ApproveAuto     ApprovalPolicy = "auto"
)

func ParseApprovalPolicy(s string) (ApprovalPolicy, error) {
	switch ApprovalPolicy(s) {
	case "", ApproveManually:
		return ApproveManually, nil
	case ApproveAuto:
		return ApproveAuto, nil
	default:
		return "", fmt.Errorf("only 'manual' and 'auto' are supported approval policies, got %q", s)
	}
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusActive},
	StatusActive:    {StatusSuspended},
	StatusSuspended: {StatusActive},
}

func canTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Service is the BNO side of the membership lifecycle. It is the only
// writer of its BNO's records.
type Service struct {
	bno    identity.Name
	ledger *Ledger
	policy ApprovalPolicy

	lock sync.Mutex
	now  func() time.Time
}

func NewService(bno identity.Name, ledger *Ledger, policy ApprovalPolicy) *Service {
	return &Service{
		bno:    bno,
		ledger: ledger,
		policy: policy,
		now:    time.Now,
	}
}

func (s *Service) BNO() identity.Name {
	return s.bno
}

func (s *Service) Policy() ApprovalPolicy {
	return s.policy
}

// Request creates a PENDING record for party, or returns the existing one.
// Under the auto policy a new record is activated before Request returns.
func (s *Service) Request(ctx context.Context, party identity.Name, metadata map[string]string) (*Record, error) {
	sp, _ := opentracing.StartSpanFromContext(ctx, "membership.Request")
	defer sp.Finish()

	s.lock.Lock()
	defer s.lock.Unlock()

	existing, err := s.ledger.Get(s.bno, party)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Debugf("%s already has a %s record with %s", party, existing.Status, s.bno)
		return existing, nil
	}

	// the record must not share the caller's map
	r := (&Record{
		Party:     party,
		BNO:       s.bno,
		Status:    StatusPending,
		Metadata:  metadata,
		Version:   1,
		UpdatedAt: s.now().UnixNano(),
	}).copy()
	if err := s.ledger.Put(r); err != nil {
		return nil, err
	}
	logger.Infof("membership requested by %s", party)

	if s.policy == ApproveAuto {
		return s.transition(r, StatusActive)
	}
	return r, nil
}

func (s *Service) Activate(ctx context.Context, party identity.Name) (*Record, error) {
	return s.move(ctx, party, StatusActive)
}

func (s *Service) Suspend(ctx context.Context, party identity.Name) (*Record, error) {
	return s.move(ctx, party, StatusSuspended)
}

// Revoke removes party's record entirely; lookups return absent afterwards.
func (s *Service) Revoke(ctx context.Context, party identity.Name) error {
	sp, _ := opentracing.StartSpanFromContext(ctx, "membership.Revoke")
	defer sp.Finish()

	s.lock.Lock()
	defer s.lock.Unlock()

	existing, err := s.ledger.Get(s.bno, party)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w for %s", ErrNotAMember, party)
	}
	if err := s.ledger.Delete(s.bno, party); err != nil {
		return err
	}
	logger.Infof("membership of %s revoked", party)
	return nil
}

// Get returns the record for party, nil when absent.
func (s *Service) Get(party identity.Name) (*Record, error) {
	return s.ledger.Get(s.bno, party)
}

func (s *Service) Records() (map[identity.Name]*Record, error) {
	return s.ledger.RecordsFor(s.bno)
}

func (s *Service) move(ctx context.Context, party identity.Name, to Status) (*Record, error) {
	sp, _ := opentracing.StartSpanFromContext(ctx, "membership.transition")
	defer sp.Finish()
	sp.SetTag("status", string(to))

	s.lock.Lock()
	defer s.lock.Unlock()

	existing, err := s.ledger.Get(s.bno, party)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w for %s", ErrNotAMember, party)
	}
	return s.transition(existing, to)
}

// transition must be called with the lock held.
func (s *Service) transition(r *Record, to Status) (*Record, error) {
	if !canTransition(r.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s for %s", ErrInvalidTransition, r.Status, to, r.Party)
	}
	next := r.copy()
	next.Status = to
	next.Version++
	next.UpdatedAt = s.now().UnixNano()
	if err := s.ledger.Put(next); err != nil {
		return nil, err
	}
	logger.Infof("membership of %s is now %s", r.Party, to)
	return next, nil
}
