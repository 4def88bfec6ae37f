package membership

import (
	"time"

	cbornode "github.com/ipfs/go-ipld-cbor"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

func init() {
	cbornode.RegisterCborType(Record{})
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

// Record is a party's standing in the network governed by BNO.
type Record struct {
	Party    identity.Name
	BNO      identity.Name
	Status   Status
	Metadata map[string]string
	// Version increases with every change to the record.
	Version uint64
	// UpdatedAt is unix nanoseconds.
	UpdatedAt int64
}

func (r *Record) IsActive() bool {
	return r.Status == StatusActive
}

func (r *Record) Updated() time.Time {
	return time.Unix(0, r.UpdatedAt)
}

func (r *Record) copy() *Record {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
