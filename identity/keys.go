package identity

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	cbornode "github.com/ipfs/go-ipld-cbor"
	"golang.org/x/xerrors"
)

func init() {
	cbornode.RegisterCborType(Signature{})
}

// Signature is a recoverable secp256k1 signature made by the named party.
type Signature struct {
	By    string
	Bytes []byte
}

// KeyPair is the signing identity of the local node.
type KeyPair struct {
	name Name
	key  *ecdsa.PrivateKey
}

func GenerateKeyPair(name Name) (*KeyPair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("error generating key: %v", err)
	}
	return NewKeyPair(name, key), nil
}

func NewKeyPair(name Name, key *ecdsa.PrivateKey) *KeyPair {
	return &KeyPair{
		name: name,
		key:  key,
	}
}

// KeyPairFromHex decodes a 0x-prefixed hex private key, the format used in
// the on-disk configs.
func KeyPairFromHex(name Name, keyHex string) (*KeyPair, error) {
	keyBytes, err := hexutil.Decode(keyHex)
	if err != nil {
		return nil, fmt.Errorf("error decoding key: %v", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("couldn't unmarshal ECDSA private key: %v", err)
	}
	return NewKeyPair(name, key), nil
}

func (kp *KeyPair) Name() Name {
	return kp.name
}

func (kp *KeyPair) Party() *Party {
	return NewParty(kp.name, &kp.key.PublicKey)
}

func (kp *KeyPair) PrivateKey() *ecdsa.PrivateKey {
	return kp.key
}

// Sign signs a 32 byte digest (see Hash).
func (kp *KeyPair) Sign(digest []byte) (*Signature, error) {
	sig, err := crypto.Sign(digest, kp.key)
	if err != nil {
		return nil, xerrors.Errorf("error signing: %w", err)
	}
	return &Signature{
		By:    string(kp.name),
		Bytes: sig,
	}, nil
}

// Hash produces the digest that parties sign.
func Hash(data []byte) []byte {
	return crypto.Keccak256(data)
}

// Verify checks that sig over digest was produced by the key registered
// for sig.By in the directory.
func Verify(dir *Directory, digest []byte, sig Signature) error {
	party, ok := dir.Lookup(Name(sig.By))
	if !ok {
		return xerrors.Errorf("unknown signer %s", sig.By)
	}
	recovered, err := crypto.SigToPub(digest, sig.Bytes)
	if err != nil {
		return xerrors.Errorf("error recovering signature: %w", err)
	}
	if crypto.PubkeyToAddress(*recovered) != party.Address() {
		return xerrors.Errorf("signature by %s does not match the registered key", sig.By)
	}
	return nil
}
