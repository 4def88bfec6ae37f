// Package storage turns storage configuration into datastores and
// blockstores for vaults, membership ledgers, notaries and wallets.
package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	datastore "github.com/ipfs/go-datastore"
	s3ds "github.com/ipfs/go-ds-s3"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"
	"github.com/quorumcontrol/chaintree/cachedblockstore"
)

var logger = logging.Logger("storage")

// Config describes where a node keeps its data. An empty Kind means memory.
type Config struct {
	Kind string
	Path string // for badger
	// CacheSize defaults to 100 (when set to 0), use -1 for no cache
	// only used for the blockstore
	CacheSize int

	// remaining are for s3
	RegionEndpoint string
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	LocalS3        bool
	RootDirectory  string
}

func (c *Config) toDatastore(name string) (datastore.Batching, error) {
	// badger holds a lock on its directory so every store needs its own
	switch strings.ToLower(c.Kind) {
	case "", "memory":
		return NewDefaultMemory(), nil
	case "badger":
		if c.Path == "" {
			return nil, fmt.Errorf("error: badger storage needs a path")
		}
		return NewDefaultBadger(path.Join(c.Path, name))
	case "s3":
		return NewS3(c, name)
	default:
		return nil, fmt.Errorf("error, unknown type: %s", c.Kind)
	}
}

// ToDatastore returns the store named name (vault, membership, notary...).
func (c *Config) ToDatastore(name string) (datastore.Batching, error) {
	return c.toDatastore(name)
}

func (c *Config) ToBlockstore(name string) (blockstore.Blockstore, error) {
	ds, err := c.toDatastore(name)
	if err != nil {
		return nil, fmt.Errorf("error getting datastore: %v", err)
	}
	bs := blockstore.NewBlockstore(ds)
	bs = blockstore.NewIdStore(bs)

	if c.CacheSize < 0 {
		return bs, nil
	}
	cacheSize := 100
	if c.CacheSize > 0 {
		cacheSize = c.CacheSize
	}
	wrapped, err := cachedblockstore.WrapInCache(bs, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("error wrapping: %v", err)
	}
	return wrapped, nil
}

// NewS3 stores name under its own directory of the configured bucket.
func NewS3(c *Config, name string) (datastore.Batching, error) {
	s3conf := s3ds.Config{
		RegionEndpoint: c.RegionEndpoint,
		Bucket:         c.Bucket,
		Region:         c.Region,
		AccessKey:      c.AccessKey,
		SecretKey:      c.SecretKey,
		RootDirectory:  path.Join(c.RootDirectory, name),
	}

	ds, err := s3ds.NewS3Datastore(s3conf)
	if err != nil {
		return nil, errors.Wrap(err, "error creating datastore")
	}
	if c.LocalS3 {
		logger.Debugf("creating bucket %s", c.Bucket)
		if err := devMakeBucket(ds.S3, c.Bucket); err != nil {
			return nil, errors.Wrap(err, "error creating bucket")
		}
	}
	return ds, nil
}

func devMakeBucket(s3obj *s3.S3, bucketName string) error {
	_, err := s3obj.CreateBucket(&s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	// a local s3 needs a moment before the bucket is usable
	time.Sleep(1 * time.Second)
	if aerr, ok := err.(interface{ Code() string }); ok && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
		return nil
	}
	return err
}
