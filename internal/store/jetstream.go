package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// JetStream is a Store backed by NATS JetStream key/value buckets. Buckets
// are created on first use.
type JetStream struct {
	js nats.JetStreamContext

	mu      sync.Mutex
	buckets map[string]nats.KeyValue
}

// NewJetStream creates a JetStream-backed store from an established
// connection.
func NewJetStream(nc *nats.Conn) (*JetStream, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("store: jetstream context: %w", err)
	}
	return &JetStream{js: js, buckets: make(map[string]nats.KeyValue)}, nil
}

func (s *JetStream) bucket(name string) (nats.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kv, ok := s.buckets[name]; ok {
		return kv, nil
	}

	kv, err := s.js.KeyValue(name)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = s.js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      name,
			Description: "forged build state",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("store: bucket %s: %w", name, err)
	}
	s.buckets[name] = kv
	return kv, nil
}

func (s *JetStream) Put(ctx context.Context, bucket, key string, value []byte) error {
	kv, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	if _, err := kv.Put(key, value); err != nil {
		return fmt.Errorf("store: put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *JetStream) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	kv, err := s.bucket(bucket)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", bucket, key, err)
	}
	return entry.Value(), nil
}

func (s *JetStream) Delete(ctx context.Context, bucket, key string) error {
	kv, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	if _, err := kv.Get(key); errors.Is(err, nats.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err := kv.Delete(key); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *JetStream) Keys(ctx context.Context, bucket string) ([]string, error) {
	kv, err := s.bucket(bucket)
	if err != nil {
		return nil, err
	}
	keys, err := kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", bucket, err)
	}
	return keys, nil
}
