package config

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

// MembershipPolicy decides how strict a responder is about the initiator's
// membership before it countersigns.
type MembershipPolicy string

const (
	// MembershipExists only requires that the BNO holds a record for the party.
	MembershipExists MembershipPolicy = "exists"
	// MembershipActive requires the record to be ACTIVE.
	MembershipActive MembershipPolicy = "active"
)

// Config is an immutable snapshot of the protocol configuration. Flows take
// one snapshot when they start and use it until they finish.
type Config struct {
	TrustedBNO       identity.Name
	Whitelist        []identity.Name
	Notary           identity.Name
	MembershipPolicy MembershipPolicy

	// Version is bumped by the Provider on every successful reload.
	Version uint64
}

func (c *Config) CurrentBNO() identity.Name {
	return c.TrustedBNO
}

func (c *Config) WhitelistedBNOs() []identity.Name {
	return append([]identity.Name(nil), c.Whitelist...)
}

func (c *Config) NotaryName() identity.Name {
	return c.Notary
}

// HumanConfig is the on-disk shape of the protocol configuration.
// Whether TrustedBNO is in WhitelistedBNOs is not validated here;
// the authorization check does that on every protocol run.
type HumanConfig struct {
	TrustedBNO       string   `yaml:"trustedBNO"`
	WhitelistedBNOs  []string `yaml:"whitelistedBNOs"`
	Notary           string   `yaml:"notary"`
	MembershipPolicy string   `yaml:"membershipPolicy"`
}

func HumanConfigToConfig(hc HumanConfig) (*Config, error) {
	c := &Config{
		TrustedBNO: identity.Name(hc.TrustedBNO),
		Notary:     identity.Name(hc.Notary),
	}
	for _, name := range hc.WhitelistedBNOs {
		c.Whitelist = append(c.Whitelist, identity.Name(name))
	}

	switch strings.ToLower(hc.MembershipPolicy) {
	case "", string(MembershipExists):
		c.MembershipPolicy = MembershipExists
	case string(MembershipActive):
		c.MembershipPolicy = MembershipActive
	default:
		return nil, fmt.Errorf("only 'exists' and 'active' are supported membership policies, got %q", hc.MembershipPolicy)
	}

	if c.Notary == "" {
		return nil, fmt.Errorf("error: no notary configured")
	}

	return c, nil
}

// TomlToConfig will load a config from a toml string
func TomlToConfig(tomlStr string) (*Config, error) {
	var hc HumanConfig
	_, err := toml.Decode(tomlStr, &hc)
	if err != nil {
		return nil, fmt.Errorf("error decoding toml: %v", err)
	}
	return HumanConfigToConfig(hc)
}

// YamlToConfig will load a config from a yaml string
func YamlToConfig(yamlStr string) (*Config, error) {
	var hc HumanConfig
	err := yaml.Unmarshal([]byte(yamlStr), &hc)
	if err != nil {
		return nil, fmt.Errorf("error decoding yaml: %v", err)
	}
	return HumanConfigToConfig(hc)
}

// LoadFile picks the decoder from the file extension; anything that is not
// .yaml or .yml is treated as toml.
func LoadFile(path string) (*Config, error) {
	bits, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %v", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YamlToConfig(string(bits))
	default:
		return TomlToConfig(string(bits))
	}
}
