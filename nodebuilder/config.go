package nodebuilder

import (
	"time"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/node"
	"github.com/aelahi23/Corda-BNO-membership/storage"
	"github.com/aelahi23/Corda-BNO-membership/tracing"
)

// NodeConfig is one node of the network.
type NodeConfig struct {
	Name  identity.Name
	Roles []node.Role
	// Key is nil when the key should be generated (or read from the wallet)
	Key *identity.KeyPair
	// ProtocolConfigPath overrides Config.Protocol with a reloadable file
	ProtocolConfigPath string
	Storage            *storage.Config
}

// Config describes a whole in-process network.
type Config struct {
	Namespace string

	Protocol       *config.Config
	ApprovalPolicy membership.ApprovalPolicy
	SessionTimeout time.Duration
	HandlerTimeout time.Duration
	TracingSystem  tracing.System

	// WalletPath keeps generated keys across restarts when set
	WalletPath       string
	WalletPassphrase string

	Nodes []*NodeConfig
}
