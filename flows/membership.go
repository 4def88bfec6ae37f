package flows

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/authz"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
)

// RequestMembership asks this party's trusted BNO for a membership record.
// The BNO's approval policy decides whether the record comes back PENDING
// or already ACTIVE.
func (f *Flows) RequestMembership(ctx context.Context, metadata map[string]string) (*membership.Record, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "flows.RequestMembership")
	defer sp.Finish()

	ctx, cancel := f.bounded(ctx)
	defer cancel()

	inst, err := newInstance(ctx, KindMembership, f.config.Current(), f.checkpoints)
	if err != nil {
		return nil, err
	}
	cfg := inst.Config()
	if err := authz.Check(cfg); err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateAuthorized, withCounterparty(cfg.CurrentBNO())); err != nil {
		return nil, inst.Fail(err)
	}

	record, err := membership.NewRemoteLookup(f.endpoint).Request(ctx, cfg.CurrentBNO(), metadata)
	if err != nil {
		return nil, inst.Fail(fmt.Errorf("error requesting membership from %s: %w", cfg.CurrentBNO(), err))
	}
	if err := inst.Advance(StateFinalized); err != nil {
		return nil, inst.Fail(err)
	}
	f.logger.Infof("membership with %s is %s", cfg.CurrentBNO(), record.Status)
	return record, nil
}

// Membership looks a party up with this party's trusted BNO.
func (f *Flows) Membership(ctx context.Context, party identity.Name) (*membership.Record, error) {
	cfg := f.config.Current()
	if err := authz.Check(cfg); err != nil {
		return nil, err
	}
	ctx, cancel := f.bounded(ctx)
	defer cancel()
	return f.lookup.GetMembership(ctx, cfg.CurrentBNO(), party)
}
