// Package wallet keeps party signing keys in an encrypted datastore.
package wallet

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
	datastore "github.com/ipfs/go-datastore"
	query "github.com/ipfs/go-datastore/query"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/storage"
)

// ExistingKeyError is returned when generating or importing a key for a
// name the wallet already holds a key for.
type ExistingKeyError struct {
	Name identity.Name
}

func (e ExistingKeyError) Error() string {
	return fmt.Sprintf("a key for %s has already been created", e.Name)
}

// Wallet stores one private key per party name.
type Wallet struct {
	storage datastore.Datastore
}

type WalletConfig struct {
	Storage datastore.Datastore
}

func NewWallet(config *WalletConfig) *Wallet {
	return &Wallet{
		storage: config.Storage,
	}
}

// NewEncryptedWallet wraps store so keys are sealed with passphrase.
func NewEncryptedWallet(store datastore.Datastore, passphrase string) (*Wallet, error) {
	encrypted := storage.EncryptedWrapper(store)
	if err := encrypted.Unlock(passphrase); err != nil {
		return nil, fmt.Errorf("error unlocking wallet: %v", err)
	}
	return NewWallet(&WalletConfig{Storage: encrypted}), nil
}

func (w *Wallet) Close() error {
	return w.storage.Close()
}

func (w *Wallet) GetKey(name identity.Name) (*identity.KeyPair, error) {
	keyBytes, err := w.storage.Get(keyStorageKey(name))
	if err != nil {
		return nil, fmt.Errorf("error getting key for %s: %v", name, err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("error decoding key for %s: %v", name, err)
	}
	return identity.NewKeyPair(name, key), nil
}

func (w *Wallet) GenerateKey(name identity.Name) (*identity.KeyPair, error) {
	kp, err := identity.GenerateKeyPair(name)
	if err != nil {
		return nil, fmt.Errorf("error generating key: %v", err)
	}
	if err := w.save(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// ImportKey stores a hex encoded private key under name.
func (w *Wallet) ImportKey(name identity.Name, keyHex string) (*identity.KeyPair, error) {
	kp, err := identity.KeyPairFromHex(name, keyHex)
	if err != nil {
		return nil, err
	}
	if err := w.save(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// GetOrGenerateKey returns the stored key for name, generating one the first
// time a name is seen.
func (w *Wallet) GetOrGenerateKey(name identity.Name) (*identity.KeyPair, error) {
	has, err := w.storage.Has(keyStorageKey(name))
	if err != nil {
		return nil, fmt.Errorf("error checking key: %v", err)
	}
	if has {
		return w.GetKey(name)
	}
	return w.GenerateKey(name)
}

func (w *Wallet) save(kp *identity.KeyPair) error {
	k := keyStorageKey(kp.Name())
	has, err := w.storage.Has(k)
	if err != nil {
		return fmt.Errorf("error checking key: %v", err)
	}
	if has {
		return ExistingKeyError{Name: kp.Name()}
	}
	if err := w.storage.Put(k, crypto.FromECDSA(kp.PrivateKey())); err != nil {
		return fmt.Errorf("error saving key: %v", err)
	}
	return nil
}

func (w *Wallet) ListKeys() ([]identity.Name, error) {
	result, err := w.storage.Query(query.Query{
		Prefix:   datastore.NewKey(keyPrefix).String() + "/",
		KeysOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error listing keys: %v", err)
	}
	defer result.Close()

	var names []identity.Name
	for entry := range result.Next() {
		if entry.Error != nil {
			return nil, fmt.Errorf("error listing keys: %v", entry.Error)
		}
		names = append(names, identity.Name(datastore.NewKey(entry.Key).BaseNamespace()))
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names, nil
}

const keyPrefix = "-k-"

func keyStorageKey(name identity.Name) datastore.Key {
	return datastore.KeyWithNamespaces([]string{keyPrefix, string(name)})
}
