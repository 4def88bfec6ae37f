package nodebuilder

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/node"
	"github.com/aelahi23/Corda-BNO-membership/storage"
	"github.com/aelahi23/Corda-BNO-membership/tracing"
)

type HumanNodeConfig struct {
	Name               string
	Roles              []string
	PrivateKeyHex      string
	ProtocolConfigPath string
	Storage            *storage.Config
}

// HumanConfig is used for parsing an on-disk network description into the
// application-used Config.
type HumanConfig struct {
	Namespace string

	Protocol       config.HumanConfig
	ApprovalPolicy string
	SessionTimeout string
	HandlerTimeout string
	TracingSystem  string

	WalletPath       string
	WalletPassphrase string

	Nodes []HumanNodeConfig
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("error parsing %s: %v", name, err)
	}
	return d, nil
}

func HumanConfigToConfig(hc HumanConfig) (*Config, error) {
	c := &Config{
		Namespace:        hc.Namespace,
		WalletPath:       hc.WalletPath,
		WalletPassphrase: hc.WalletPassphrase,
	}

	protocol, err := config.HumanConfigToConfig(hc.Protocol)
	if err != nil {
		return nil, fmt.Errorf("error getting protocol config: %v", err)
	}
	c.Protocol = protocol

	c.ApprovalPolicy, err = membership.ParseApprovalPolicy(hc.ApprovalPolicy)
	if err != nil {
		return nil, err
	}
	c.TracingSystem, err = tracing.ParseSystem(hc.TracingSystem)
	if err != nil {
		return nil, err
	}
	c.SessionTimeout, err = parseDuration("sessionTimeout", hc.SessionTimeout)
	if err != nil {
		return nil, err
	}
	c.HandlerTimeout, err = parseDuration("handlerTimeout", hc.HandlerTimeout)
	if err != nil {
		return nil, err
	}

	seen := make(map[identity.Name]bool)
	for _, hn := range hc.Nodes {
		nc, err := hn.toNodeConfig()
		if err != nil {
			return nil, err
		}
		if seen[nc.Name] {
			return nil, fmt.Errorf("node %s is defined twice", nc.Name)
		}
		seen[nc.Name] = true
		c.Nodes = append(c.Nodes, nc)
	}
	if len(c.Nodes) == 0 {
		return nil, fmt.Errorf("error: no nodes configured")
	}
	return c, nil
}

func (hn *HumanNodeConfig) toNodeConfig() (*NodeConfig, error) {
	if hn.Name == "" {
		return nil, fmt.Errorf("error: every node needs a name")
	}
	nc := &NodeConfig{
		Name:               identity.Name(hn.Name),
		ProtocolConfigPath: hn.ProtocolConfigPath,
		Storage:            hn.Storage,
	}
	if nc.Storage == nil {
		nc.Storage = &storage.Config{}
	}
	for _, r := range hn.Roles {
		role, err := node.ParseRole(r)
		if err != nil {
			return nil, fmt.Errorf("error in node %s: %v", hn.Name, err)
		}
		nc.Roles = append(nc.Roles, role)
	}
	if len(nc.Roles) == 0 {
		nc.Roles = []node.Role{node.RoleParty}
	}
	if hn.PrivateKeyHex != "" {
		key, err := identity.KeyPairFromHex(nc.Name, hn.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("error getting private key of %s: %v", hn.Name, err)
		}
		nc.Key = key
	}
	return nc, nil
}

// TomlToConfig loads a network config from a toml file. Relative protocol
// config paths are resolved against the file's directory.
func TomlToConfig(path string) (*Config, error) {
	tomlBits, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %v", path, err)
	}
	var hc HumanConfig
	if _, err := toml.Decode(string(tomlBits), &hc); err != nil {
		return nil, fmt.Errorf("error decoding toml: %v", err)
	}
	dir := filepath.Dir(path)
	for i, hn := range hc.Nodes {
		if hn.ProtocolConfigPath != "" && !filepath.IsAbs(hn.ProtocolConfigPath) {
			hc.Nodes[i].ProtocolConfigPath = filepath.Join(dir, hn.ProtocolConfigPath)
		}
	}
	return HumanConfigToConfig(hc)
}
