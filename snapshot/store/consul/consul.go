// Package consul stores values in HashiCorp Consul KV.
//
// Consul KV caps values at 512KB, far below a typical memory image, so
// this store is used for the small records around snapshots (the index
// mapping an engine build to its image key, digest and size), not for
// the image bytes themselves.
package consul

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/isopod/data"
)

// MaxValueSize is Consul's KV value limit.
const MaxValueSize = 512 * 1024

type ConsulStore struct {
	kv     *api.KV
	prefix string
}

type Config struct {
	// Address of the Consul server (default: "127.0.0.1:8500").
	Address string

	// Token for Consul ACL authentication (optional).
	Token string

	// Datacenter to use (optional).
	Datacenter string

	// Prefix for all keys in Consul KV (default: "isopod").
	Prefix string
}

func New(cfg Config) (*ConsulStore, error) {
	clientConfig := api.DefaultConfig()
	if cfg.Address != "" {
		clientConfig.Address = cfg.Address
	}
	if cfg.Token != "" {
		clientConfig.Token = cfg.Token
	}
	if cfg.Datacenter != "" {
		clientConfig.Datacenter = cfg.Datacenter
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "isopod"
	}

	return &ConsulStore{
		kv:     client.KV(),
		prefix: prefix,
	}, nil
}

func (cs *ConsulStore) key(key string) string {
	return cs.prefix + "/" + key
}

func (cs *ConsulStore) Get(ctx context.Context, key string) ([]byte, error) {
	pair, _, err := cs.kv.Get(cs.key(key), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}

	if pair == nil {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	return pair.Value, nil
}

func (cs *ConsulStore) Put(ctx context.Context, key string, value []byte) error {
	if len(value) > MaxValueSize {
		return fmt.Errorf("value for %s exceeds consul KV limit (%d > %d bytes)",
			key, len(value), MaxValueSize)
	}

	_, err := cs.kv.Put(&api.KVPair{
		Key:   cs.key(key),
		Value: value,
	}, (&api.WriteOptions{}).WithContext(ctx))

	return err
}

func (cs *ConsulStore) Exists(ctx context.Context, key string) (bool, error) {
	pair, _, err := cs.kv.Get(cs.key(key), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return false, err
	}

	return pair != nil, nil
}
