package identity

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Name is the legal name a party is known by on the network,
// for example "O=PartyA,L=London,C=GB".
type Name string

func (n Name) String() string {
	return string(n)
}

// Party is a network participant: a legal name bound to a secp256k1 public key.
type Party struct {
	Name      Name
	PublicKey *ecdsa.PublicKey
}

func NewParty(name Name, pub *ecdsa.PublicKey) *Party {
	return &Party{
		Name:      name,
		PublicKey: pub,
	}
}

// Address is the ethereum-style address derived from the party's public key.
func (p *Party) Address() common.Address {
	return crypto.PubkeyToAddress(*p.PublicKey)
}

func (p *Party) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Address().Hex())
}

// Equal is true when both the names and the keys match.
func (p *Party) Equal(other *Party) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Name == other.Name && p.Address() == other.Address()
}
