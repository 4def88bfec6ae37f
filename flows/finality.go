package flows

import (
	"context"
	"fmt"

	cbornode "github.com/ipfs/go-ipld-cbor"
	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/notary"
)

func init() {
	cbornode.RegisterCborType(FinalityMessage{})
	cbornode.RegisterCborType(FinalityAck{})
}

// FinalityMessage carries the notarized transaction to a counterparty.
type FinalityMessage struct {
	Tx ledger.SignedTransaction
}

type FinalityAck struct {
	TxID string
}

// ServeNotary exposes a notary service on its node's endpoint.
func ServeNotary(e *network.Endpoint, s *notary.Service) {
	e.Handle(NotaryProtocol, func(ctx context.Context, session *network.Session) error {
		stx := &ledger.SignedTransaction{}
		if err := session.Receive(ctx, stx); err != nil {
			return err
		}
		sig, err := s.Notarize(ctx, stx)
		if err != nil {
			return err
		}
		return session.Send(ctx, sig)
	})
}

func (f *Flows) notarize(ctx context.Context, stx *ledger.SignedTransaction) (*identity.Signature, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "flows.notarize")
	defer sp.Finish()

	s, err := f.endpoint.OpenSession(ctx, stx.Tx.Notary, NotaryProtocol)
	if err != nil {
		return nil, fmt.Errorf("error reaching notary %s: %w", stx.Tx.Notary, err)
	}
	defer s.Close()

	sig := &identity.Signature{}
	if err := s.SendAndReceive(ctx, stx, sig); err != nil {
		return nil, fmt.Errorf("error notarizing: %w", err)
	}
	if sig.By != string(stx.Tx.Notary) {
		return nil, fmt.Errorf("notary responded with a signature from %s", sig.By)
	}
	return sig, nil
}

// Finalize notarizes a fully signed transaction, records it and hands it to
// every session's counterparty. Finalizing a transaction this party has
// already recorded returns the recorded copy without contacting anyone.
func (f *Flows) Finalize(ctx context.Context, stx *ledger.SignedTransaction, sessions ...*network.Session) (*ledger.SignedTransaction, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "flows.Finalize")
	defer sp.Finish()

	ctx, cancel := f.bounded(ctx)
	defer cancel()

	id, err := stx.ID()
	if err != nil {
		return nil, err
	}
	recorded, err := f.vault.HasTransaction(id)
	if err != nil {
		return nil, err
	}
	if recorded {
		f.logger.Debugf("%s already final", id.String())
		return f.vault.Transaction(id)
	}

	if err := stx.VerifySignatures(f.directory); err != nil {
		return nil, err
	}
	sig, err := f.notarize(ctx, stx)
	if err != nil {
		return nil, err
	}
	notarized := stx.WithSignatures(*sig)
	if err := notarized.VerifyNotarized(f.directory); err != nil {
		return nil, err
	}
	if _, err := f.vault.Record(notarized); err != nil {
		return nil, fmt.Errorf("error recording %s: %w", id.String(), err)
	}

	for _, s := range sessions {
		ack := &FinalityAck{}
		if err := s.SendAndReceive(ctx, &FinalityMessage{Tx: *notarized}, ack); err != nil {
			return nil, fmt.Errorf("error sending %s to %s: %w", id.String(), s.Counterparty(), err)
		}
		if ack.TxID != id.String() {
			return nil, fmt.Errorf("%s acknowledged %s instead of %s", s.Counterparty(), ack.TxID, id.String())
		}
	}
	f.logger.Infof("finalized %s", id.String())
	return notarized, nil
}

// receiveFinality waits for the notarized version of expected and records it.
func (f *Flows) receiveFinality(ctx context.Context, s *network.Session, expected string) (*ledger.SignedTransaction, error) {
	msg := &FinalityMessage{}
	if err := s.Receive(ctx, msg); err != nil {
		return nil, err
	}
	notarized := &msg.Tx
	id, err := notarized.ID()
	if err != nil {
		return nil, err
	}
	if id.String() != expected {
		return nil, fmt.Errorf("received %s for finality, expected %s", id.String(), expected)
	}
	if err := notarized.VerifyNotarized(f.directory); err != nil {
		return nil, err
	}
	if _, err := f.vault.Record(notarized); err != nil {
		return nil, fmt.Errorf("error recording %s: %w", id.String(), err)
	}
	if err := s.Send(ctx, &FinalityAck{TxID: id.String()}); err != nil {
		return nil, err
	}
	return notarized, nil
}
