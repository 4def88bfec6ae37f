package notary

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	cbornode "github.com/ipfs/go-ipld-cbor"

	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

// ErrWrongNotary is returned for transactions that name a different notary.
var ErrWrongNotary = errors.New("transaction names a different notary")

// Conflict is an input that an earlier transaction already consumed.
type Conflict struct {
	Ref        ledger.StateRef
	ConsumedBy cid.Cid
}

func init() {
	cbornode.RegisterCborType(Conflict{})
	cbornode.RegisterCborType(NotarizationError{})
}

// NotarizationError is every refusal to notarize. Conflicts is set for
// double spends, Reason for anything else. It can cross a session. TxID is
// empty when the request carried no transaction to identify.
type NotarizationError struct {
	TxID      string
	Conflicts []Conflict
	Reason    string

	err error
}

func rejection(txID cid.Cid, err error) *NotarizationError {
	return &NotarizationError{TxID: idString(txID), Reason: err.Error(), err: err}
}

func idString(id cid.Cid) string {
	if !id.Defined() {
		return ""
	}
	return id.String()
}

func (e *NotarizationError) Error() string {
	if len(e.Conflicts) > 0 {
		descriptions := make([]string, len(e.Conflicts))
		for i, c := range e.Conflicts {
			descriptions[i] = fmt.Sprintf("%s consumed by %s", c.Ref.String(), c.ConsumedBy.String())
		}
		return fmt.Sprintf("notarization of %s failed, inputs already consumed: %s", e.TxID, strings.Join(descriptions, ", "))
	}
	if e.TxID == "" {
		return fmt.Sprintf("notarization failed: %s", e.Reason)
	}
	return fmt.Sprintf("notarization of %s failed: %s", e.TxID, e.Reason)
}

func (e *NotarizationError) Code() string {
	return "notary.rejected"
}

// Unwrap is nil for errors decoded from a session.
func (e *NotarizationError) Unwrap() error {
	return e.err
}
