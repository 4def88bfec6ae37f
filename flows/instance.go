package flows

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	datastore "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	cbornode "github.com/ipfs/go-ipld-cbor"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

func init() {
	cbornode.RegisterCborType(Checkpoint{})
}

type State string

const (
	StateInit          State = "INIT"
	StateAuthorized    State = "AUTHORIZED"
	StateFunded        State = "FUNDED"
	StateBuilt         State = "BUILT"
	StateSelfSigned    State = "SELF_SIGNED"
	StateSessionOpen   State = "SESSION_OPEN"
	StateCountersigned State = "COUNTERSIGNED"
	StateFinalized     State = "FINALIZED"
	StateFailed        State = "FAILED"

	// responder only
	StateCounterpartyVerified State = "COUNTERPARTY_VERIFIED"
	StateProposalVerified     State = "PROPOSAL_VERIFIED"
)

// Kind is which protocol an instance runs.
type Kind string

const (
	KindIssue      Kind = "issue"
	KindTransfer   Kind = "transfer"
	KindRespond    Kind = "respond"
	KindMembership Kind = "membership"
)

// paths lists the happy path of every kind. Any state but the last may also
// move to FAILED.
var paths = map[Kind][]State{
	KindIssue:      {StateInit, StateAuthorized, StateBuilt, StateSelfSigned, StateFinalized},
	KindTransfer:   {StateInit, StateAuthorized, StateFunded, StateBuilt, StateSelfSigned, StateSessionOpen, StateCountersigned, StateFinalized},
	KindRespond:    {StateInit, StateAuthorized, StateCounterpartyVerified, StateProposalVerified, StateSelfSigned, StateFinalized},
	KindMembership: {StateInit, StateAuthorized, StateFinalized},
}

func nextState(kind Kind, from State) (State, bool) {
	path := paths[kind]
	for i := 0; i < len(path)-1; i++ {
		if path[i] == from {
			return path[i+1], true
		}
	}
	return "", false
}

// Checkpoint is what is persisted after every transition of an instance.
type Checkpoint struct {
	ID            string
	Kind          Kind
	State         State
	History       []State
	Counterparty  identity.Name
	ConfigVersion uint64
	Builder       *ledger.BuilderState
	FundingTxID   string
	TxID          string
	Error         string
	UpdatedAt     int64
}

func (c *Checkpoint) Terminal() bool {
	return c.State == StateFinalized || c.State == StateFailed
}

var checkpointPrefix = datastore.NewKey("/flows/checkpoints")

// CheckpointStore persists checkpoints in a datastore.
type CheckpointStore struct {
	store datastore.Datastore
}

func NewCheckpointStore(store datastore.Datastore) *CheckpointStore {
	return &CheckpointStore{store: store}
}

func (cs *CheckpointStore) Put(c *Checkpoint) error {
	bits, err := cbornode.DumpObject(c)
	if err != nil {
		return fmt.Errorf("error encoding checkpoint: %v", err)
	}
	return cs.store.Put(checkpointPrefix.ChildString(c.ID), bits)
}

// Get returns the last checkpoint of flow id, nil if there is none.
func (cs *CheckpointStore) Get(id string) (*Checkpoint, error) {
	bits, err := cs.store.Get(checkpointPrefix.ChildString(id))
	if err == datastore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting checkpoint %s: %v", id, err)
	}
	c := &Checkpoint{}
	if err := cbornode.DecodeInto(bits, c); err != nil {
		return nil, fmt.Errorf("error decoding checkpoint %s: %v", id, err)
	}
	return c, nil
}

func (cs *CheckpointStore) List() ([]*Checkpoint, error) {
	results, err := cs.store.Query(query.Query{Prefix: checkpointPrefix.String() + "/"})
	if err != nil {
		return nil, fmt.Errorf("error querying checkpoints: %v", err)
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, fmt.Errorf("error querying checkpoints: %v", err)
	}
	checkpoints := make([]*Checkpoint, 0, len(entries))
	for _, entry := range entries {
		c := &Checkpoint{}
		if err := cbornode.DecodeInto(entry.Value, c); err != nil {
			return nil, fmt.Errorf("error decoding %s: %v", entry.Key, err)
		}
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, nil
}

type flowIDKey struct{}

// WithFlowID makes the next flow started with ctx use id, so callers can
// look its checkpoints up later.
func WithFlowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, flowIDKey{}, id)
}

func NewFlowID() string {
	return uuid.New().String()
}

func flowIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(flowIDKey{}).(string); ok && id != "" {
		return id
	}
	return NewFlowID()
}

// Instance is one run of a flow. It owns the configuration snapshot taken
// when it started and checkpoints every transition.
type Instance struct {
	lock       sync.Mutex
	checkpoint Checkpoint
	config     *config.Config
	store      *CheckpointStore
	err        error
}

func newInstance(ctx context.Context, kind Kind, cfg *config.Config, store *CheckpointStore) (*Instance, error) {
	inst := &Instance{
		checkpoint: Checkpoint{
			ID:            flowIDFrom(ctx),
			Kind:          kind,
			State:         StateInit,
			History:       []State{StateInit},
			ConfigVersion: cfg.Version,
		},
		config: cfg,
		store:  store,
	}
	if err := inst.save(); err != nil {
		return nil, err
	}
	return inst, nil
}

func (inst *Instance) ID() string {
	return inst.checkpoint.ID
}

func (inst *Instance) Kind() Kind {
	return inst.checkpoint.Kind
}

func (inst *Instance) Config() *config.Config {
	return inst.config
}

func (inst *Instance) State() State {
	inst.lock.Lock()
	defer inst.lock.Unlock()
	return inst.checkpoint.State
}

// Checkpoint returns a copy of the latest checkpoint.
func (inst *Instance) Checkpoint() Checkpoint {
	inst.lock.Lock()
	defer inst.lock.Unlock()
	c := inst.checkpoint
	c.History = append([]State(nil), c.History...)
	return c
}

func (inst *Instance) Err() error {
	inst.lock.Lock()
	defer inst.lock.Unlock()
	return inst.err
}

type checkpointUpdate func(c *Checkpoint)

func withBuilder(b *ledger.Builder) checkpointUpdate {
	return func(c *Checkpoint) {
		s := b.State()
		c.Builder = &s
	}
}

func withTxID(id string) checkpointUpdate {
	return func(c *Checkpoint) {
		c.TxID = id
	}
}

func withFundingTxID(id string) checkpointUpdate {
	return func(c *Checkpoint) {
		c.FundingTxID = id
	}
}

func withCounterparty(name identity.Name) checkpointUpdate {
	return func(c *Checkpoint) {
		c.Counterparty = name
	}
}

// Advance moves to the next state of the happy path. Asking for anything
// else fails the instance.
func (inst *Instance) Advance(to State, updates ...checkpointUpdate) error {
	inst.lock.Lock()
	from := inst.checkpoint.State
	expected, ok := nextState(inst.checkpoint.Kind, from)
	inst.lock.Unlock()
	if !ok || expected != to {
		return inst.Fail(fmt.Errorf("%w: %s flow cannot go from %s to %s", ErrIllegalTransition, inst.checkpoint.Kind, from, to))
	}

	inst.lock.Lock()
	inst.checkpoint.State = to
	inst.checkpoint.History = append(inst.checkpoint.History, to)
	for _, update := range updates {
		update(&inst.checkpoint)
	}
	inst.lock.Unlock()
	return inst.save()
}

// Fail moves the instance to FAILED and returns err so callers can
// `return inst.Fail(err)`. Failing a finished instance changes nothing.
func (inst *Instance) Fail(err error) error {
	inst.lock.Lock()
	if inst.checkpoint.State == StateFailed || inst.checkpoint.State == StateFinalized {
		inst.lock.Unlock()
		return err
	}
	inst.err = err
	inst.checkpoint.State = StateFailed
	inst.checkpoint.History = append(inst.checkpoint.History, StateFailed)
	inst.checkpoint.Error = err.Error()
	inst.lock.Unlock()

	if saveErr := inst.save(); saveErr != nil {
		logger.Errorf("error saving failed checkpoint %s: %v", inst.ID(), saveErr)
	}
	return err
}

func (inst *Instance) save() error {
	inst.lock.Lock()
	inst.checkpoint.UpdatedAt = time.Now().UnixNano()
	c := inst.checkpoint
	inst.lock.Unlock()
	if err := inst.store.Put(&c); err != nil {
		return fmt.Errorf("error checkpointing flow %s: %w", c.ID, err)
	}
	return nil
}
