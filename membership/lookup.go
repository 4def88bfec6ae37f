package membership

import (
	"context"
	"fmt"
	"sort"

	cbornode "github.com/ipfs/go-ipld-cbor"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/network"
)

const (
	RequestProtocol = "membership.request"
	QueryProtocol   = "membership.query"
	ListProtocol    = "membership.list"
)

func init() {
	cbornode.RegisterCborType(RequestMessage{})
	cbornode.RegisterCborType(QueryMessage{})
	cbornode.RegisterCborType(QueryResponse{})
	cbornode.RegisterCborType(ListMessage{})
	cbornode.RegisterCborType(ListResponse{})
}

type RequestMessage struct {
	Metadata map[string]string
}

type QueryMessage struct {
	BNO   identity.Name
	Party identity.Name
}

type QueryResponse struct {
	Found  bool
	Record Record
}

type ListMessage struct {
	BNO identity.Name
}

type ListResponse struct {
	Records []Record
}

// Lookup answers membership questions. A nil record with a nil error means
// the BNO holds no record for the party.
type Lookup interface {
	GetMembership(ctx context.Context, bno, party identity.Name) (*Record, error)
}

// LocalLookup reads a ledger directly; it is what the BNO node itself uses.
type LocalLookup struct {
	ledger *Ledger
}

var _ Lookup = (*LocalLookup)(nil)

func NewLocalLookup(l *Ledger) *LocalLookup {
	return &LocalLookup{ledger: l}
}

func (ll *LocalLookup) GetMembership(_ context.Context, bno, party identity.Name) (*Record, error) {
	return ll.ledger.Get(bno, party)
}

// RoutedLookup serves queries about the local BNO from its own ledger and
// sends the rest to whichever BNO is asked about. Which one that is can change
// with every configuration reload.
type RoutedLookup struct {
	self   identity.Name
	local  Lookup
	remote Lookup
}

var _ Lookup = (*RoutedLookup)(nil)

func NewRoutedLookup(self identity.Name, local, remote Lookup) *RoutedLookup {
	return &RoutedLookup{self: self, local: local, remote: remote}
}

func (rl *RoutedLookup) GetMembership(ctx context.Context, bno, party identity.Name) (*Record, error) {
	if bno == rl.self {
		return rl.local.GetMembership(ctx, bno, party)
	}
	return rl.remote.GetMembership(ctx, bno, party)
}

// RemoteLookup asks the BNO node over a session.
type RemoteLookup struct {
	endpoint *network.Endpoint
}

var _ Lookup = (*RemoteLookup)(nil)

func NewRemoteLookup(e *network.Endpoint) *RemoteLookup {
	return &RemoteLookup{endpoint: e}
}

func (rl *RemoteLookup) GetMembership(ctx context.Context, bno, party identity.Name) (*Record, error) {
	s, err := rl.endpoint.OpenSession(ctx, bno, QueryProtocol)
	if err != nil {
		return nil, fmt.Errorf("error opening session with %s: %w", bno, err)
	}
	defer s.Close()

	resp := &QueryResponse{}
	if err := s.SendAndReceive(ctx, &QueryMessage{BNO: bno, Party: party}, resp); err != nil {
		return nil, fmt.Errorf("error querying %s: %w", bno, err)
	}
	if !resp.Found {
		return nil, nil
	}
	return &resp.Record, nil
}

// Request asks bno to admit the local party.
func (rl *RemoteLookup) Request(ctx context.Context, bno identity.Name, metadata map[string]string) (*Record, error) {
	s, err := rl.endpoint.OpenSession(ctx, bno, RequestProtocol)
	if err != nil {
		return nil, fmt.Errorf("error opening session with %s: %w", bno, err)
	}
	defer s.Close()

	r := &Record{}
	if err := s.SendAndReceive(ctx, &RequestMessage{Metadata: metadata}, r); err != nil {
		return nil, fmt.Errorf("error requesting membership from %s: %w", bno, err)
	}
	return r, nil
}

// List returns every record bno holds.
func (rl *RemoteLookup) List(ctx context.Context, bno identity.Name) ([]Record, error) {
	s, err := rl.endpoint.OpenSession(ctx, bno, ListProtocol)
	if err != nil {
		return nil, fmt.Errorf("error opening session with %s: %w", bno, err)
	}
	defer s.Close()

	resp := &ListResponse{}
	if err := s.SendAndReceive(ctx, &ListMessage{BNO: bno}, resp); err != nil {
		return nil, fmt.Errorf("error listing members of %s: %w", bno, err)
	}
	return resp.Records, nil
}

// Serve registers the BNO's membership protocols on e.
func (s *Service) Serve(e *network.Endpoint) {
	e.Handle(RequestProtocol, s.handleRequest)
	e.Handle(QueryProtocol, s.handleQuery)
	e.Handle(ListProtocol, s.handleList)
}

func (s *Service) handleRequest(ctx context.Context, session *network.Session) error {
	msg := &RequestMessage{}
	if err := session.Receive(ctx, msg); err != nil {
		return err
	}
	// the requester is whoever opened the session, never a name from the payload
	r, err := s.Request(ctx, session.Counterparty(), msg.Metadata)
	if err != nil {
		return err
	}
	return session.Send(ctx, r)
}

func (s *Service) handleQuery(ctx context.Context, session *network.Session) error {
	msg := &QueryMessage{}
	if err := session.Receive(ctx, msg); err != nil {
		return err
	}
	resp := &QueryResponse{}
	if msg.BNO == s.bno {
		r, err := s.Get(msg.Party)
		if err != nil {
			return err
		}
		if r != nil {
			resp.Found = true
			resp.Record = *r
		}
	}
	return session.Send(ctx, resp)
}

func (s *Service) handleList(ctx context.Context, session *network.Session) error {
	msg := &ListMessage{}
	if err := session.Receive(ctx, msg); err != nil {
		return err
	}
	resp := &ListResponse{}
	if msg.BNO == s.bno {
		records, err := s.Records()
		if err != nil {
			return err
		}
		for _, r := range records {
			resp.Records = append(resp.Records, *r)
		}
		sort.Slice(resp.Records, func(i, j int) bool { return resp.Records[i].Party < resp.Records[j].Party })
	}
	return session.Send(ctx, resp)
}
