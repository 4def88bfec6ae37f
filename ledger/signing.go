package ledger

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

// MissingSignaturesError is returned when required signers have not signed.
type MissingSignaturesError struct {
	TxID    cid.Cid
	Missing []identity.Name
}

func (e *MissingSignaturesError) Error() string {
	names := make([]string, len(e.Missing))
	for i, n := range e.Missing {
		names[i] = string(n)
	}
	return fmt.Sprintf("transaction %s is missing signatures from: %s", e.TxID.String(), strings.Join(names, "; "))
}

// SigningDigest is what every party signs for a transaction.
func SigningDigest(txID cid.Cid) []byte {
	return identity.Hash(txID.Bytes())
}

// SignTransaction signs the transaction id with key.
func SignTransaction(wt *WireTransaction, key *identity.KeyPair) (*identity.Signature, error) {
	id, err := wt.ID()
	if err != nil {
		return nil, err
	}
	return key.Sign(SigningDigest(id))
}

// Sign turns the builder's current contents into a signed transaction.
func Sign(b *Builder, keys ...*identity.KeyPair) (*SignedTransaction, error) {
	wt := b.ToWireTransaction()
	stx := &SignedTransaction{Tx: wt}
	for _, key := range keys {
		sig, err := SignTransaction(wt, key)
		if err != nil {
			return nil, fmt.Errorf("error signing as %s: %w", key.Name(), err)
		}
		stx = stx.WithSignatures(*sig)
	}
	return stx, nil
}

// VerifySignatures checks that every signature present is valid and that
// every required signer, except those in allowedMissing, has signed.
func (st *SignedTransaction) VerifySignatures(dir *identity.Directory, allowedMissing ...identity.Name) error {
	id, err := st.ID()
	if err != nil {
		return err
	}
	digest := SigningDigest(id)
	for _, sig := range st.Sigs {
		if err := identity.Verify(dir, digest, sig); err != nil {
			return fmt.Errorf("error verifying signature on %s: %w", id.String(), err)
		}
	}

	allowed := make(map[identity.Name]bool, len(allowedMissing))
	for _, n := range allowedMissing {
		allowed[n] = true
	}
	var missing []identity.Name
	for _, signer := range st.Tx.RequiredSigners() {
		if allowed[signer] {
			continue
		}
		if _, ok := st.SignatureBy(signer); !ok {
			missing = append(missing, signer)
		}
	}
	if len(missing) > 0 {
		return &MissingSignaturesError{TxID: id, Missing: missing}
	}
	return nil
}

// VerifyNotarized checks every required signature plus the notary's.
func (st *SignedTransaction) VerifyNotarized(dir *identity.Directory) error {
	if err := st.VerifySignatures(dir); err != nil {
		return err
	}
	if _, ok := st.SignatureBy(st.Tx.Notary); !ok {
		id, _ := st.ID()
		return &MissingSignaturesError{TxID: id, Missing: []identity.Name{st.Tx.Notary}}
	}
	return nil
}
