package membership

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	datastore "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	cbornode "github.com/ipfs/go-ipld-cbor"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

var membershipPrefix = datastore.NewKey("/membership")

const recordCacheSize = 500

// Ledger stores membership records. The cache is written through on every
// change so a read after a write never sees the old record.
type Ledger struct {
	store datastore.Batching
	cache *lru.Cache
}

func NewLedger(store datastore.Batching) (*Ledger, error) {
	cache, err := lru.New(recordCacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating cache: %v", err)
	}
	return &Ledger{
		store: store,
		cache: cache,
	}, nil
}

func recordKey(bno, party identity.Name) datastore.Key {
	return membershipPrefix.ChildString(string(bno)).ChildString(string(party))
}

func (l *Ledger) Put(r *Record) error {
	bits, err := cbornode.DumpObject(r)
	if err != nil {
		return fmt.Errorf("error encoding record: %v", err)
	}
	key := recordKey(r.BNO, r.Party)
	if err := l.store.Put(key, bits); err != nil {
		return fmt.Errorf("error storing record for %s: %v", r.Party, err)
	}
	l.cache.Add(key.String(), r.copy())
	return nil
}

// Get returns the record for party under bno, or nil if there is none.
func (l *Ledger) Get(bno, party identity.Name) (*Record, error) {
	key := recordKey(bno, party)
	if cached, ok := l.cache.Get(key.String()); ok {
		return cached.(*Record).copy(), nil
	}
	bits, err := l.store.Get(key)
	if err == datastore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting record for %s: %v", party, err)
	}
	r := &Record{}
	if err := cbornode.DecodeInto(bits, r); err != nil {
		return nil, fmt.Errorf("error decoding record for %s: %v", party, err)
	}
	l.cache.Add(key.String(), r.copy())
	return r, nil
}

func (l *Ledger) Delete(bno, party identity.Name) error {
	key := recordKey(bno, party)
	l.cache.Remove(key.String())
	if err := l.store.Delete(key); err != nil && err != datastore.ErrNotFound {
		return fmt.Errorf("error deleting record for %s: %v", party, err)
	}
	return nil
}

// RecordsFor returns every record kept under bno keyed by party.
func (l *Ledger) RecordsFor(bno identity.Name) (map[identity.Name]*Record, error) {
	prefix := membershipPrefix.ChildString(string(bno)).String() + "/"
	results, err := l.store.Query(query.Query{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("error querying records: %v", err)
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, fmt.Errorf("error querying records: %v", err)
	}
	records := make(map[identity.Name]*Record, len(entries))
	for _, entry := range entries {
		r := &Record{}
		if err := cbornode.DecodeInto(entry.Value, r); err != nil {
			return nil, fmt.Errorf("error decoding %s: %v", entry.Key, err)
		}
		records[r.Party] = r
	}
	return records, nil
}
