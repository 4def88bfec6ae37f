package vault

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ipfs/go-cid"
	datastore "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	cbornode "github.com/ipfs/go-ipld-cbor"
	logging "github.com/ipfs/go-log"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

var logger = logging.Logger("vault")

var (
	// ErrNotFound is returned for unknown transactions and for states that
	// are unknown or already consumed.
	ErrNotFound = errors.New("not found")
	// ErrStateLocked is returned when another flow holds a soft lock on a state.
	ErrStateLocked = errors.New("state is soft locked by another flow")
)

var (
	txPrefix         = datastore.NewKey("/vault/tx")
	unconsumedPrefix = datastore.NewKey("/vault/unconsumed")
	consumedPrefix   = datastore.NewKey("/vault/consumed")
)

const txCacheSize = 500

// Vault is a party's view of the ledger: every finalized transaction it has
// seen and which of their outputs are still unconsumed.
type Vault struct {
	store   datastore.Batching
	txCache *lru.Cache
	txLocks *idLocker

	softLock  sync.Mutex
	softLocks map[string]string
}

var _ ledger.StateResolver = (*Vault)(nil)

func New(store datastore.Batching) (*Vault, error) {
	cache, err := lru.New(txCacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating cache: %v", err)
	}
	return &Vault{
		store:     store,
		txCache:   cache,
		txLocks:   newIDLocker(),
		softLocks: make(map[string]string),
	}, nil
}

func refKey(prefix datastore.Key, ref ledger.StateRef) datastore.Key {
	return prefix.ChildString(ref.TxID.String() + "-" + strconv.Itoa(ref.Index))
}

// Record stores a finalized transaction, consumes its inputs and adds its
// outputs. Recording the same transaction again is a no-op and returns false.
func (v *Vault) Record(stx *ledger.SignedTransaction) (bool, error) {
	id, err := stx.ID()
	if err != nil {
		return false, err
	}
	unlock := v.txLocks.Lock(id.String())
	defer unlock()

	txKey := txPrefix.ChildString(id.String())
	exists, err := v.store.Has(txKey)
	if err != nil {
		return false, fmt.Errorf("error checking for %s: %v", id.String(), err)
	}
	if exists {
		logger.Debugf("transaction %s already recorded", id.String())
		return false, nil
	}

	encoded, err := cbornode.DumpObject(stx)
	if err != nil {
		return false, fmt.Errorf("error encoding transaction: %v", err)
	}

	batch, err := v.store.Batch()
	if err != nil {
		return false, fmt.Errorf("error creating batch: %v", err)
	}
	for _, in := range stx.Tx.Inputs {
		if err := batch.Delete(refKey(unconsumedPrefix, in)); err != nil {
			return false, fmt.Errorf("error consuming %s: %v", in.String(), err)
		}
		if err := batch.Put(refKey(consumedPrefix, in), id.Bytes()); err != nil {
			return false, fmt.Errorf("error consuming %s: %v", in.String(), err)
		}
	}
	for i, out := range stx.Tx.Outputs {
		sar := ledger.StateAndRef{Ref: ledger.OutRef(id, i), State: out}
		encodedState, err := cbornode.DumpObject(sar)
		if err != nil {
			return false, fmt.Errorf("error encoding output: %v", err)
		}
		if err := batch.Put(refKey(unconsumedPrefix, sar.Ref), encodedState); err != nil {
			return false, fmt.Errorf("error storing output: %v", err)
		}
	}
	if err := batch.Put(txKey, encoded); err != nil {
		return false, fmt.Errorf("error storing transaction: %v", err)
	}
	if err := batch.Commit(); err != nil {
		return false, fmt.Errorf("error committing %s: %v", id.String(), err)
	}
	v.txCache.Add(id.String(), stx)

	v.softLock.Lock()
	for _, in := range stx.Tx.Inputs {
		delete(v.softLocks, in.String())
	}
	v.softLock.Unlock()

	logger.Debugf("recorded transaction %s (%d in, %d out)", id.String(), len(stx.Tx.Inputs), len(stx.Tx.Outputs))
	return true, nil
}

// Transaction returns a recorded transaction.
func (v *Vault) Transaction(id cid.Cid) (*ledger.SignedTransaction, error) {
	if cached, ok := v.txCache.Get(id.String()); ok {
		return cached.(*ledger.SignedTransaction), nil
	}
	bits, err := v.store.Get(txPrefix.ChildString(id.String()))
	if err == datastore.ErrNotFound {
		return nil, fmt.Errorf("transaction %s: %w", id.String(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting %s: %v", id.String(), err)
	}
	stx := &ledger.SignedTransaction{}
	if err := cbornode.DecodeInto(bits, stx); err != nil {
		return nil, fmt.Errorf("error decoding %s: %v", id.String(), err)
	}
	v.txCache.Add(id.String(), stx)
	return stx, nil
}

func (v *Vault) HasTransaction(id cid.Cid) (bool, error) {
	if v.txCache.Contains(id.String()) {
		return true, nil
	}
	return v.store.Has(txPrefix.ChildString(id.String()))
}

// ResolveState returns any state the vault has seen, consumed or not.
func (v *Vault) ResolveState(ref ledger.StateRef) (*ledger.TransactionState, error) {
	stx, err := v.Transaction(ref.TxID)
	if err != nil {
		return nil, err
	}
	sar, err := stx.OutputRef(ref.Index)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrNotFound)
	}
	return &sar.State, nil
}

// UnconsumedState returns ref if it is known and not yet consumed.
func (v *Vault) UnconsumedState(ref ledger.StateRef) (*ledger.StateAndRef, error) {
	bits, err := v.store.Get(refKey(unconsumedPrefix, ref))
	if err == datastore.ErrNotFound {
		return nil, fmt.Errorf("unconsumed state %s: %w", ref.String(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting %s: %v", ref.String(), err)
	}
	sar := &ledger.StateAndRef{}
	if err := cbornode.DecodeInto(bits, sar); err != nil {
		return nil, fmt.Errorf("error decoding %s: %v", ref.String(), err)
	}
	return sar, nil
}

// ConsumedBy returns the id of the transaction that consumed ref.
func (v *Vault) ConsumedBy(ref ledger.StateRef) (cid.Cid, bool, error) {
	bits, err := v.store.Get(refKey(consumedPrefix, ref))
	if err == datastore.ErrNotFound {
		return cid.Undef, false, nil
	}
	if err != nil {
		return cid.Undef, false, fmt.Errorf("error getting %s: %v", ref.String(), err)
	}
	id, err := cid.Cast(bits)
	if err != nil {
		return cid.Undef, false, fmt.Errorf("error casting cid: %v", err)
	}
	return id, true, nil
}

// Unconsumed lists unconsumed states of contract owned by owner, ordered by reference.
func (v *Vault) Unconsumed(contract string, owner identity.Name) ([]ledger.StateAndRef, error) {
	results, err := v.store.Query(query.Query{Prefix: unconsumedPrefix.String() + "/"})
	if err != nil {
		return nil, fmt.Errorf("error querying vault: %v", err)
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, fmt.Errorf("error querying vault: %v", err)
	}

	var states []ledger.StateAndRef
	for _, entry := range entries {
		var sar ledger.StateAndRef
		if err := cbornode.DecodeInto(entry.Value, &sar); err != nil {
			return nil, fmt.Errorf("error decoding %s: %v", entry.Key, err)
		}
		if sar.State.Contract != contract || sar.State.Owner != owner {
			continue
		}
		states = append(states, sar)
	}
	sort.Slice(states, func(i, j int) bool {
		return strings.Compare(states[i].Ref.String(), states[j].Ref.String()) < 0
	})
	return states, nil
}

// BackChain returns every recorded transaction the inputs of wt depend on,
// dependencies before dependents.
func (v *Vault) BackChain(wt *ledger.WireTransaction) ([]*ledger.SignedTransaction, error) {
	var chain []*ledger.SignedTransaction
	visited := make(map[string]bool)

	var visit func(id cid.Cid) error
	visit = func(id cid.Cid) error {
		if visited[id.String()] {
			return nil
		}
		visited[id.String()] = true
		stx, err := v.Transaction(id)
		if err != nil {
			return err
		}
		for _, in := range stx.Tx.Inputs {
			if err := visit(in.TxID); err != nil {
				return err
			}
		}
		chain = append(chain, stx)
		return nil
	}

	for _, in := range wt.Inputs {
		if err := visit(in.TxID); err != nil {
			return nil, fmt.Errorf("error collecting back chain: %w", err)
		}
	}
	return chain, nil
}

// SoftLock reserves refs for lockID until they are consumed or released.
// Either every ref is locked or none is.
func (v *Vault) SoftLock(lockID string, refs ...ledger.StateRef) error {
	v.softLock.Lock()
	defer v.softLock.Unlock()
	for _, ref := range refs {
		if holder, ok := v.softLocks[ref.String()]; ok && holder != lockID {
			return fmt.Errorf("%s: %w", ref.String(), ErrStateLocked)
		}
	}
	for _, ref := range refs {
		v.softLocks[ref.String()] = lockID
	}
	return nil
}

// ReleaseSoftLocks frees everything held by lockID.
func (v *Vault) ReleaseSoftLocks(lockID string) {
	v.softLock.Lock()
	defer v.softLock.Unlock()
	for ref, holder := range v.softLocks {
		if holder == lockID {
			delete(v.softLocks, ref)
		}
	}
}

// LockedByOther reports whether ref is soft locked by a lock other than lockID.
func (v *Vault) LockedByOther(ref ledger.StateRef, lockID string) bool {
	v.softLock.Lock()
	defer v.softLock.Unlock()
	holder, ok := v.softLocks[ref.String()]
	return ok && holder != lockID
}
