// Package nodebuilder starts a whole in-process network from its config.
package nodebuilder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log"
	"github.com/shibukawa/configdir"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/node"
	"github.com/aelahi23/Corda-BNO-membership/storage"
	"github.com/aelahi23/Corda-BNO-membership/tracing"
	"github.com/aelahi23/Corda-BNO-membership/wallet"
)

var logger = logging.Logger("nodebuilder")

type NodeBuilder struct {
	Config *Config

	hub       *network.Hub
	directory *identity.Directory
	wallet    *wallet.Wallet
	nodes     map[identity.Name]*node.Node
	stopOnce  sync.Once
	stopErr   error
}

func (nb *NodeBuilder) Hub() *network.Hub {
	return nb.hub
}

func (nb *NodeBuilder) Directory() *identity.Directory {
	return nb.directory
}

// Node returns the started node called name.
func (nb *NodeBuilder) Node(name identity.Name) (*node.Node, bool) {
	n, ok := nb.nodes[name]
	return n, ok
}

// Nodes returns every started node sorted by name.
func (nb *NodeBuilder) Nodes() []*node.Node {
	nodes := make([]*node.Node, 0, len(nb.nodes))
	for _, n := range nb.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes
}

// Start starts every configured node. Everything is stopped when ctx is done.
func (nb *NodeBuilder) Start(ctx context.Context) error {
	if err := nb.configAssertions(); err != nil {
		return err
	}
	nb.StartTracing()

	var hubOpts []network.HubOption
	if nb.Config.HandlerTimeout > 0 {
		hubOpts = append(hubOpts, network.WithHandlerTimeout(nb.Config.HandlerTimeout))
	}
	nb.hub = network.NewHub(hubOpts...)
	nb.directory = identity.NewDirectory()
	nb.nodes = make(map[identity.Name]*node.Node)

	if nb.Config.WalletPath != "" {
		ds, err := storage.NewDefaultBadger(nb.Config.WalletPath)
		if err != nil {
			return fmt.Errorf("error opening wallet: %w", err)
		}
		w, err := wallet.NewEncryptedWallet(ds, nb.Config.WalletPassphrase)
		if err != nil {
			return err
		}
		nb.wallet = w
	}

	go func() {
		<-ctx.Done()
		nb.Stop()
	}()

	for _, nc := range nb.Config.Nodes {
		n, err := nb.startNode(ctx, nc)
		if err != nil {
			return fmt.Errorf("error starting %s: %w", nc.Name, err)
		}
		nb.nodes[nc.Name] = n
	}
	logger.Infof("started %d nodes", len(nb.nodes))
	return nil
}

func (nb *NodeBuilder) startNode(ctx context.Context, nc *NodeConfig) (*node.Node, error) {
	key, err := nb.keyFor(nc)
	if err != nil {
		return nil, err
	}

	sc := *nc.Storage
	if sc.Kind == "badger" && sc.Path == "" {
		sc.Path = filepath.Join(configDir(nb.Config.Namespace), slug(nc.Name))
	}
	ds, err := sc.ToDatastore("datastore")
	if err != nil {
		return nil, fmt.Errorf("error converting to datastore: %w", err)
	}

	opts := []node.Option{
		node.WithKey(key),
		node.WithRoles(nc.Roles...),
		node.WithHub(nb.hub),
		node.WithDirectory(nb.directory),
		node.WithStorage(ds),
		node.WithApprovalPolicy(nb.Config.ApprovalPolicy),
		node.WithSessionTimeout(nb.Config.SessionTimeout),
	}
	for _, r := range nc.Roles {
		if r == node.RoleNotary {
			bs, err := sc.ToBlockstore("blockstore")
			if err != nil {
				return nil, fmt.Errorf("error converting to blockstore: %w", err)
			}
			opts = append(opts, node.WithBlockstore(bs))
		}
	}
	if nc.ProtocolConfigPath != "" {
		opts = append(opts, node.WithProtocolConfigFile(nc.ProtocolConfigPath))
	} else if nb.Config.Protocol != nil {
		opts = append(opts, node.WithProtocolConfig(config.NewStaticProvider(nb.Config.Protocol)))
	}
	return node.New(ctx, opts...)
}

func (nb *NodeBuilder) keyFor(nc *NodeConfig) (*identity.KeyPair, error) {
	if nc.Key != nil {
		return nc.Key, nil
	}
	if nb.wallet != nil {
		return nb.wallet.GetOrGenerateKey(nc.Name)
	}
	return identity.GenerateKeyPair(nc.Name)
}

// Stop stops every node and closes the wallet. Only the first call has an effect.
func (nb *NodeBuilder) Stop() error {
	nb.stopOnce.Do(func() {
		if nb.Config.TracingSystem == tracing.JaegerTracing {
			tracing.StopJaeger()
		}
		for _, n := range nb.nodes {
			n.Stop()
		}
		if nb.wallet != nil {
			nb.stopErr = nb.wallet.Close()
		}
	})
	return nb.stopErr
}

func (nb *NodeBuilder) configAssertions() error {
	conf := nb.Config
	if conf == nil || len(conf.Nodes) == 0 {
		return fmt.Errorf("error: must configure at least one node")
	}
	counts := make(map[node.Role]int)
	for _, nc := range conf.Nodes {
		for _, r := range nc.Roles {
			counts[r]++
			if r == node.RoleParty && conf.Protocol == nil && nc.ProtocolConfigPath == "" {
				return fmt.Errorf("error: party %s has no protocol config", nc.Name)
			}
		}
	}
	if conf.Protocol != nil && counts[node.RoleNotary] == 0 {
		return fmt.Errorf("error: protocol names notary %s but no node has the notary role", conf.Protocol.NotaryName())
	}
	return nil
}

func (nb *NodeBuilder) StartTracing() {
	tracing.Start(nb.Config.TracingSystem, "bnonet-"+nb.Config.Namespace)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

func slug(name identity.Name) string {
	return unsafeChars.ReplaceAllString(string(name), "_")
}

func configDir(namespace string) string {
	conf := configdir.New("bnonet", namespace)
	folders := conf.QueryFolders(configdir.Global)
	if err := os.MkdirAll(folders[0].Path, 0700); err != nil {
		panic(err)
	}
	return folders[0].Path
}
