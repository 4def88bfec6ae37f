package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger"
	"github.com/dgraph-io/badger/options"
	datastore "github.com/ipfs/go-datastore"
	dsync "github.com/ipfs/go-datastore/sync"
	dsbadger "github.com/ipfs/go-ds-badger"
)

// NewDefaultMemory is a thread safe map datastore. Nothing survives a restart.
func NewDefaultMemory() datastore.Batching {
	return dsync.MutexWrap(datastore.NewMapDatastore())
}

// NewDefaultBadger opens (creating if needed) a badger datastore at dir.
// Setting BADGERDB_LOW_MEMORY_MODE reads tables and value logs through file IO
// instead of mmap.
func NewDefaultBadger(dir string) (datastore.Batching, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("error creating %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir)

	if lowMem, ok := os.LookupEnv("BADGERDB_LOW_MEMORY_MODE"); ok && strings.ToLower(lowMem) != "false" {
		opts.ValueLogLoadingMode = options.FileIO
		opts.TableLoadingMode = options.FileIO
	}

	ds, err := dsbadger.NewDatastore(dir, &dsbadger.Options{Options: opts})
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", dir, err)
	}
	logger.Debugf("opened badger datastore at %s", dir)
	return ds, nil
}
