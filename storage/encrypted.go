package storage

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	datastore "github.com/ipfs/go-datastore"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// ErrLocked is returned by an EncryptedStore used before Unlock.
var ErrLocked = fmt.Errorf("you must unlock this storage before using")

// EncryptedStorage is a datastore whose values are sealed with a key
// derived from a passphrase.
type EncryptedStorage interface {
	datastore.Datastore
	// Unlock takes a passphrase to use to decrypt values in the database
	Unlock(passphrase string) error
}

var _ EncryptedStorage = (*EncryptedStore)(nil)

var saltKey = datastore.NewKey("_bnostorage_encrypted_salt")

// EncryptedStore encrypts values before handing them to the wrapped
// datastore. Keys are stored in the clear.
type EncryptedStore struct {
	datastore.Datastore

	lock      sync.RWMutex
	secretKey *[32]byte
}

func EncryptedWrapper(store datastore.Datastore) *EncryptedStore {
	return &EncryptedStore{
		Datastore: store,
	}
}

func (es *EncryptedStore) Unlock(passphrase string) error {
	salt, err := es.salt()
	if err != nil {
		return err
	}
	dk, err := scrypt.Key([]byte(passphrase), salt, 32768, 8, 1, 32)
	if err != nil {
		return fmt.Errorf("error deriving key: %v", err)
	}
	var key [32]byte
	copy(key[:], dk)

	es.lock.Lock()
	es.secretKey = &key
	es.lock.Unlock()
	return nil
}

func (es *EncryptedStore) key() (*[32]byte, error) {
	es.lock.RLock()
	defer es.lock.RUnlock()
	if es.secretKey == nil {
		return nil, ErrLocked
	}
	return es.secretKey, nil
}

func (es *EncryptedStore) Put(key datastore.Key, value []byte) error {
	secretKey, err := es.key()
	if err != nil {
		return err
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("error getting nonce: %v", err)
	}
	return es.Datastore.Put(key, secretbox.Seal(nonce[:], value, &nonce, secretKey))
}

// Get returns datastore.ErrNotFound untouched for missing keys and an error
// when the passphrase does not open the value.
func (es *EncryptedStore) Get(key datastore.Key) ([]byte, error) {
	secretKey, err := es.key()
	if err != nil {
		return nil, err
	}
	encrypted, err := es.Datastore.Get(key)
	if err != nil {
		return nil, err
	}
	if len(encrypted) < 24 {
		return nil, fmt.Errorf("error decrypting %s: value too short", key)
	}
	var nonce [24]byte
	copy(nonce[:], encrypted[:24])
	decrypted, ok := secretbox.Open(nil, encrypted[24:], &nonce, secretKey)
	if !ok {
		return nil, fmt.Errorf("error decrypting %s: wrong passphrase", key)
	}
	return decrypted, nil
}

func (es *EncryptedStore) salt() ([]byte, error) {
	salt, err := es.Datastore.Get(saltKey)
	if err == nil && len(salt) > 0 {
		return salt, nil
	}
	if err != nil && err != datastore.ErrNotFound {
		return nil, fmt.Errorf("error getting salt: %v", err)
	}
	salt = make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("error generating salt: %v", err)
	}
	if err := es.Datastore.Put(saltKey, salt); err != nil {
		return nil, fmt.Errorf("error saving salt: %v", err)
	}
	return salt, nil
}
