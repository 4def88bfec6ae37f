package flows

import (
	"errors"
	"fmt"

	cbornode "github.com/ipfs/go-ipld-cbor"

	"github.com/aelahi23/Corda-BNO-membership/authz"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/notary"
)

// ErrIllegalTransition means a flow tried to skip or repeat a step.
var ErrIllegalTransition = errors.New("illegal flow transition")

func init() {
	cbornode.RegisterCborType(authz.UntrustedBNOError{})
	cbornode.RegisterCborType(UnknownCounterpartyError{})
	cbornode.RegisterCborType(CounterpartySignatureRejectedError{})

	network.RegisterError(untrustedBNOCode, func() network.CodedError { return &authz.UntrustedBNOError{} })
	network.RegisterError(unknownCounterpartyCode, func() network.CodedError { return &UnknownCounterpartyError{} })
	network.RegisterError(signatureRejectedCode, func() network.CodedError { return &CounterpartySignatureRejectedError{} })
	network.RegisterError(notarizationCode, func() network.CodedError { return &notary.NotarizationError{} })
}

var (
	untrustedBNOCode        = (&authz.UntrustedBNOError{}).Code()
	unknownCounterpartyCode = (&UnknownCounterpartyError{}).Code()
	signatureRejectedCode   = (&CounterpartySignatureRejectedError{}).Code()
	notarizationCode        = (&notary.NotarizationError{}).Code()
)

// NotOwnerError is returned when a transfer names an asset the caller does
// not currently own. Owner is empty when the asset is unknown or spent.
type NotOwnerError struct {
	Ref    ledger.StateRef
	Owner  identity.Name
	Caller identity.Name
}

func (e *NotOwnerError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("%s does not own %s: no such unconsumed asset", e.Caller, e.Ref.String())
	}
	return fmt.Sprintf("%s does not own %s: owned by %s", e.Caller, e.Ref.String(), e.Owner)
}

type SelfTransferError struct {
	Party identity.Name
}

func (e *SelfTransferError) Error() string {
	return fmt.Sprintf("%s cannot transfer to itself", e.Party)
}

// UnknownCounterpartyError is a responder refusing an initiator it cannot
// find in its BNO's membership ledger. Status is set when a record exists
// but the membership policy wants it ACTIVE.
type UnknownCounterpartyError struct {
	Party  identity.Name
	BNO    identity.Name
	Status membership.Status
}

func (e *UnknownCounterpartyError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s is %s with %s, not ACTIVE", e.Party, e.Status, e.BNO)
	}
	return fmt.Sprintf("%s has no membership with %s", e.Party, e.BNO)
}

func (e *UnknownCounterpartyError) Code() string {
	return "flows.unknown-counterparty"
}

// CounterpartySignatureRejectedError is a counterparty declining to sign.
type CounterpartySignatureRejectedError struct {
	Counterparty identity.Name
	Reason       string
}

func (e *CounterpartySignatureRejectedError) Error() string {
	return fmt.Sprintf("%s refused to sign: %s", e.Counterparty, e.Reason)
}

func (e *CounterpartySignatureRejectedError) Code() string {
	return "flows.signature-rejected"
}
