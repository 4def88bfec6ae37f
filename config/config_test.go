package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

const basicToml = `
TrustedBNO = "O=BNO,L=New York,C=US"
WhitelistedBNOs = ["O=BNO,L=New York,C=US", "O=OtherBNO,L=Oslo,C=NO"]
Notary = "O=Notary,L=London,C=GB"
`

const basicYaml = `
trustedBNO: "O=BNO,L=New York,C=US"
whitelistedBNOs:
  - "O=OtherBNO,L=Oslo,C=NO"
notary: "O=Notary,L=London,C=GB"
membershipPolicy: active
`

func TestTomlLoading(t *testing.T) {
	c, err := TomlToConfig(basicToml)
	require.Nil(t, err)
	assert.Equal(t, identity.Name("O=BNO,L=New York,C=US"), c.CurrentBNO())
	assert.Len(t, c.WhitelistedBNOs(), 2)
	assert.Equal(t, identity.Name("O=Notary,L=London,C=GB"), c.NotaryName())
	assert.Equal(t, MembershipExists, c.MembershipPolicy)
}

func TestYamlLoading(t *testing.T) {
	c, err := YamlToConfig(basicYaml)
	require.Nil(t, err)
	assert.Equal(t, identity.Name("O=BNO,L=New York,C=US"), c.CurrentBNO())
	assert.Equal(t, []identity.Name{"O=OtherBNO,L=Oslo,C=NO"}, c.WhitelistedBNOs())
	assert.Equal(t, MembershipActive, c.MembershipPolicy)
}

func TestFailsWithInvalidPolicy(t *testing.T) {
	_, err := TomlToConfig(basicToml + `MembershipPolicy = "sometimes"`)
	require.NotNil(t, err)
}

func TestFailsWithoutNotary(t *testing.T) {
	_, err := TomlToConfig(`TrustedBNO = "O=BNO,L=New York,C=US"`)
	require.NotNil(t, err)
}

func TestWhitelistIsCopied(t *testing.T) {
	c, err := TomlToConfig(basicToml)
	require.Nil(t, err)
	wl := c.WhitelistedBNOs()
	wl[0] = "O=Mallory,L=Nowhere,C=XX"
	assert.Equal(t, identity.Name("O=BNO,L=New York,C=US"), c.WhitelistedBNOs()[0])
}

func writeConfig(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	require.Nil(t, ioutil.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestProviderReload(t *testing.T) {
	dir, err := ioutil.TempDir("", "bno-config")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := writeConfig(t, dir, "protocol.toml", basicToml)
	p, err := NewProvider(path)
	require.Nil(t, err)

	first := p.Current()
	assert.Equal(t, uint64(1), first.Version)

	writeConfig(t, dir, "protocol.toml", `
TrustedBNO = "O=OtherBNO,L=Oslo,C=NO"
WhitelistedBNOs = ["O=OtherBNO,L=Oslo,C=NO"]
Notary = "O=Notary,L=London,C=GB"
`)
	second, err := p.Reload()
	require.Nil(t, err)
	assert.Equal(t, uint64(2), second.Version)
	assert.Equal(t, identity.Name("O=OtherBNO,L=Oslo,C=NO"), p.Current().CurrentBNO())

	// snapshots handed out earlier are untouched
	assert.Equal(t, identity.Name("O=BNO,L=New York,C=US"), first.CurrentBNO())
	assert.Len(t, first.WhitelistedBNOs(), 2)
}

func TestProviderKeepsSnapshotOnFailedReload(t *testing.T) {
	dir, err := ioutil.TempDir("", "bno-config")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := writeConfig(t, dir, "protocol.yaml", basicYaml)
	p, err := NewProvider(path)
	require.Nil(t, err)

	writeConfig(t, dir, "protocol.yaml", "membershipPolicy: [broken")
	_, err = p.Reload()
	require.NotNil(t, err)
	assert.Equal(t, uint64(1), p.Current().Version)
	assert.Equal(t, MembershipActive, p.Current().MembershipPolicy)
}

func TestStaticProviderCannotReload(t *testing.T) {
	c, err := TomlToConfig(basicToml)
	require.Nil(t, err)
	p := NewStaticProvider(c)
	_, err = p.Reload()
	require.NotNil(t, err)
	assert.Equal(t, c.CurrentBNO(), p.Current().CurrentBNO())
}

func TestConcurrentReadersDuringSet(t *testing.T) {
	a, err := TomlToConfig(basicToml)
	require.Nil(t, err)
	b := &Config{
		TrustedBNO: "O=OtherBNO,L=Oslo,C=NO",
		Whitelist:  []identity.Name{"O=OtherBNO,L=Oslo,C=NO"},
		Notary:     "O=Notary,L=London,C=GB",
	}
	p := NewStaticProvider(a)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap := p.Current()
				// each snapshot is internally consistent
				assert.Contains(t, snap.WhitelistedBNOs(), snap.CurrentBNO())
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			p.Set(b)
		} else {
			p.Set(a)
		}
	}
	wg.Wait()
}
