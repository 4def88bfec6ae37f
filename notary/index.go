package notary

import (
	"context"
	"fmt"

	block "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	datastore "github.com/ipfs/go-datastore"
	hamt "github.com/ipfs/go-hamt-ipld"
	blockstore "github.com/ipfs/go-ipfs-blockstore"

	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

var rootKey = datastore.NewKey("/notary/root")

// bsWrapper implements the blocks interface go-hamt-ipld needs on top of a blockstore.
type bsWrapper struct {
	bs blockstore.Blockstore
}

func (bw *bsWrapper) GetBlock(_ context.Context, id cid.Cid) (block.Block, error) {
	return bw.bs.Get(id)
}

func (bw *bsWrapper) AddBlock(blk block.Block) error {
	return bw.bs.Put(blk)
}

// uniquenessIndex maps every consumed StateRef to the transaction that consumed it.
// It is only touched from the notary actor.
type uniquenessIndex struct {
	store *hamt.CborIpldStore
	ds    datastore.Datastore
	root  *hamt.Node
}

func loadIndex(ctx context.Context, ds datastore.Datastore, bs blockstore.Blockstore) (*uniquenessIndex, error) {
	store := &hamt.CborIpldStore{Blocks: &bsWrapper{bs: bs}}
	idx := &uniquenessIndex{store: store, ds: ds}

	rootBits, err := ds.Get(rootKey)
	if err == datastore.ErrNotFound {
		idx.root = hamt.NewNode(store, hamt.UseTreeBitWidth(5))
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting root: %w", err)
	}
	rootCid, err := cid.Cast(rootBits)
	if err != nil {
		return nil, fmt.Errorf("error casting root: %w", err)
	}
	root, err := hamt.LoadNode(ctx, store, rootCid, hamt.UseTreeBitWidth(5))
	if err != nil {
		return nil, fmt.Errorf("error loading root %s: %w", rootCid.String(), err)
	}
	idx.root = root
	return idx, nil
}

// conflicts returns the inputs already consumed by a transaction other than txID.
func (idx *uniquenessIndex) conflicts(ctx context.Context, txID cid.Cid, inputs []ledger.StateRef) ([]Conflict, error) {
	var found []Conflict
	for _, ref := range inputs {
		var consumedBy cid.Cid
		err := idx.root.Find(ctx, ref.String(), &consumedBy)
		if err == hamt.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error finding %s: %w", ref.String(), err)
		}
		if !consumedBy.Equals(txID) {
			found = append(found, Conflict{Ref: ref, ConsumedBy: consumedBy})
		}
	}
	return found, nil
}

// commit marks inputs as consumed by txID and returns the new root cid.
// The in-memory root is only replaced once the new root is flushed.
func (idx *uniquenessIndex) commit(ctx context.Context, txID cid.Cid, inputs []ledger.StateRef) (cid.Cid, error) {
	next := idx.root.Copy()
	for _, ref := range inputs {
		if err := next.Set(ctx, ref.String(), txID); err != nil {
			return cid.Undef, fmt.Errorf("error setting %s: %w", ref.String(), err)
		}
	}
	if err := next.Flush(ctx); err != nil {
		return cid.Undef, fmt.Errorf("error flushing: %w", err)
	}
	rootCid, err := idx.store.Put(ctx, next)
	if err != nil {
		return cid.Undef, fmt.Errorf("error storing root: %w", err)
	}
	idx.root = next
	return rootCid, nil
}
