// Package flows implements the authorized transaction protocols: issuing an
// asset, transferring it to a counterparty against a cash payment, the
// counterparty's side of that transfer, and finality through the notary.
package flows

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/vault"
)

var logger = logging.Logger("flows")

const (
	TransferProtocol = "bno.transfer"
	NotaryProtocol   = "notary.notarize"
)

// DefaultSessionTimeout bounds a flow that was started without a deadline.
const DefaultSessionTimeout = 30 * time.Second

// Flows runs protocol instances on behalf of one party.
type Flows struct {
	key         *identity.KeyPair
	directory   *identity.Directory
	endpoint    *network.Endpoint
	vault       *vault.Vault
	config      *config.Provider
	lookup      membership.Lookup
	checkpoints *CheckpointStore

	sessionTimeout time.Duration
	logger         logging.EventLogger
}

type Options struct {
	Key         *identity.KeyPair
	Directory   *identity.Directory
	Endpoint    *network.Endpoint
	Vault       *vault.Vault
	Config      *config.Provider
	Lookup      membership.Lookup
	Checkpoints *CheckpointStore
	// SessionTimeout defaults to DefaultSessionTimeout
	SessionTimeout time.Duration
}

func New(opts *Options) (*Flows, error) {
	if opts.Key == nil || opts.Directory == nil || opts.Endpoint == nil || opts.Vault == nil || opts.Config == nil || opts.Checkpoints == nil {
		return nil, fmt.Errorf("error: key, directory, endpoint, vault, config and checkpoints are all required")
	}
	f := &Flows{
		key:            opts.Key,
		directory:      opts.Directory,
		endpoint:       opts.Endpoint,
		vault:          opts.Vault,
		config:         opts.Config,
		lookup:         opts.Lookup,
		checkpoints:    opts.Checkpoints,
		sessionTimeout: opts.SessionTimeout,
		logger:         logging.Logger("flows." + string(opts.Key.Name())),
	}
	if f.sessionTimeout == 0 {
		f.sessionTimeout = DefaultSessionTimeout
	}
	if f.lookup == nil {
		f.lookup = membership.NewRemoteLookup(f.endpoint)
	}
	return f, nil
}

// Serve registers the responder side of the transfer protocol.
func (f *Flows) Serve() {
	f.endpoint.Handle(TransferProtocol, f.transferResponder)
}

func (f *Flows) Name() identity.Name {
	return f.key.Name()
}

func (f *Flows) Vault() *vault.Vault {
	return f.vault
}

// Checkpoint returns the latest checkpoint of flow id, nil if unknown.
func (f *Flows) Checkpoint(id string) (*Checkpoint, error) {
	return f.checkpoints.Get(id)
}

// bounded applies the session timeout unless ctx already has a deadline.
func (f *Flows) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.sessionTimeout)
}
