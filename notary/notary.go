// Package notary is a non-validating uniqueness service: it countersigns a
// transaction only if none of its inputs were consumed by another one.
package notary

import (
	"context"
	"fmt"
	"time"

	"github.com/AsynkronIT/protoactor-go/actor"
	"github.com/ipfs/go-cid"
	datastore "github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	cbornode "github.com/ipfs/go-ipld-cbor"
	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

var committedPrefix = datastore.NewKey("/notary/committed")

const defaultRequestTimeout = 10 * time.Second

type notarizeRequest struct {
	ctx context.Context
	tx  *ledger.SignedTransaction
}

type notarizeResponse struct {
	sig *identity.Signature
	err error
}

// Service serializes every notarization through a single actor so the
// uniqueness index has one writer.
type Service struct {
	key       *identity.KeyPair
	directory *identity.Directory
	ds        datastore.Datastore
	index     *uniquenessIndex

	rootContext *actor.RootContext
	pid         *actor.PID
	logger      logging.EventLogger
}

type Options struct {
	Key        *identity.KeyPair
	Directory  *identity.Directory
	Datastore  datastore.Datastore
	Blockstore blockstore.Blockstore
	// RootActorContext defaults to actor.EmptyRootContext
	RootActorContext *actor.RootContext
}

func NewService(ctx context.Context, opts *Options) (*Service, error) {
	idx, err := loadIndex(ctx, opts.Datastore, opts.Blockstore)
	if err != nil {
		return nil, fmt.Errorf("error loading uniqueness index: %w", err)
	}
	s := &Service{
		key:         opts.Key,
		directory:   opts.Directory,
		ds:          opts.Datastore,
		index:       idx,
		rootContext: opts.RootActorContext,
		logger:      logging.Logger("notary"),
	}
	if s.rootContext == nil {
		s.rootContext = actor.EmptyRootContext
	}
	return s, nil
}

func (s *Service) Name() identity.Name {
	return s.key.Name()
}

// Start spawns the notary actor; it is stopped when ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.pid = s.rootContext.Spawn(actor.PropsFromFunc(s.Receive))
	go func() {
		<-ctx.Done()
		s.logger.Infof("notary %s stopped", s.key.Name())
		s.rootContext.Poison(s.pid)
	}()
}

// Notarize checks and commits tx and returns the notary's signature over it.
// Notarizing an already committed transaction returns the original signature.
func (s *Service) Notarize(ctx context.Context, tx *ledger.SignedTransaction) (*identity.Signature, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "notary.Notarize")
	defer sp.Finish()

	if tx == nil || tx.Tx == nil {
		return nil, rejection(cid.Undef, ledger.ErrNoTransaction)
	}

	timeout := defaultRequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	res, err := s.rootContext.RequestFuture(s.pid, &notarizeRequest{ctx: ctx, tx: tx}, timeout).Result()
	if err != nil {
		return nil, fmt.Errorf("error waiting for notary: %w", err)
	}
	resp := res.(*notarizeResponse)
	return resp.sig, resp.err
}

func (s *Service) Receive(actorContext actor.Context) {
	switch msg := actorContext.Message().(type) {
	case *actor.Started:
		s.logger.Debugf("notary %s started", s.key.Name())
	case *notarizeRequest:
		sig, err := s.handleNotarize(msg.ctx, msg.tx)
		actorContext.Respond(&notarizeResponse{sig: sig, err: err})
	}
}

func (s *Service) handleNotarize(ctx context.Context, tx *ledger.SignedTransaction) (*identity.Signature, error) {
	id, err := tx.ID()
	if err != nil {
		return nil, rejection(cid.Undef, err)
	}

	existing, err := s.committedSignature(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Debugf("%s already notarized", id.String())
		return existing, nil
	}

	if tx.Tx.Notary != s.key.Name() {
		return nil, rejection(id, fmt.Errorf("%w: %s", ErrWrongNotary, tx.Tx.Notary))
	}
	if err := tx.VerifySignatures(s.directory); err != nil {
		return nil, rejection(id, err)
	}

	conflicts, err := s.index.conflicts(ctx, id, tx.Tx.Inputs)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		s.logger.Warningf("rejecting %s: %d inputs already consumed", id.String(), len(conflicts))
		return nil, &NotarizationError{TxID: id.String(), Conflicts: conflicts}
	}

	sig, err := ledger.SignTransaction(tx.Tx, s.key)
	if err != nil {
		return nil, fmt.Errorf("error signing: %w", err)
	}
	sigBits, err := cbornode.DumpObject(sig)
	if err != nil {
		return nil, fmt.Errorf("error encoding signature: %w", err)
	}

	rootCid, err := s.index.commit(ctx, id, tx.Tx.Inputs)
	if err != nil {
		return nil, err
	}
	if err := s.ds.Put(rootKey, rootCid.Bytes()); err != nil {
		return nil, fmt.Errorf("error saving root: %w", err)
	}
	if err := s.ds.Put(committedPrefix.ChildString(id.String()), sigBits); err != nil {
		return nil, fmt.Errorf("error saving signature: %w", err)
	}
	s.logger.Infof("notarized %s (%d inputs), root %s", id.String(), len(tx.Tx.Inputs), rootCid.String())
	return sig, nil
}

func (s *Service) committedSignature(id cid.Cid) (*identity.Signature, error) {
	bits, err := s.ds.Get(committedPrefix.ChildString(id.String()))
	if err == datastore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting %s: %w", id.String(), err)
	}
	sig := &identity.Signature{}
	if err := cbornode.DecodeInto(bits, sig); err != nil {
		return nil, fmt.Errorf("error decoding signature: %w", err)
	}
	return sig, nil
}

// Root is the cid of the last committed uniqueness index, false before the
// first commit.
func (s *Service) Root() (cid.Cid, bool, error) {
	bits, err := s.ds.Get(rootKey)
	if err == datastore.ErrNotFound {
		return cid.Undef, false, nil
	}
	if err != nil {
		return cid.Undef, false, fmt.Errorf("error getting root: %w", err)
	}
	root, err := cid.Cast(bits)
	if err != nil {
		return cid.Undef, false, fmt.Errorf("error casting root: %w", err)
	}
	return root, true, nil
}
