package control

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultDialTimeout bounds the initial etcd connection
const DefaultDialTimeout = 5 * time.Second

// EtcdStore implements Store with one etcd lease per job
type EtcdStore struct {
	cli *clientv3.Client
	ttl time.Duration
}

// NewEtcdStore connects to the given endpoints
func NewEtcdStore(endpoints []string, dialTimeout, ttl time.Duration) (*EtcdStore, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return NewEtcdStoreWithClient(cli, ttl), nil
}

// NewEtcdStoreWithClient wraps an existing client
func NewEtcdStoreWithClient(cli *clientv3.Client, ttl time.Duration) *EtcdStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EtcdStore{cli: cli, ttl: ttl}
}

// Create implements Store
func (s *EtcdStore) Create(ctx context.Context, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	lease, err := s.cli.Grant(ctx, int64(s.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	_, err = s.cli.Txn(ctx).Then(
		clientv3.OpPut(MetaKey(meta.ID), string(data), clientv3.WithLease(lease.ID)),
		clientv3.OpPut(IndexKey(meta.ID), "", clientv3.WithLease(lease.ID)),
	).Commit()
	if err != nil {
		_, _ = s.cli.Revoke(context.WithoutCancel(ctx), lease.ID)
		return fmt.Errorf("store meta: %w", err)
	}
	return nil
}

// Meta implements Store
func (s *EtcdStore) Meta(ctx context.Context, id string) (Meta, error) {
	meta, _, err := s.get(ctx, id)
	return meta, err
}

// UpdateMeta implements Store
func (s *EtcdStore) UpdateMeta(ctx context.Context, meta Meta) error {
	_, lease, err := s.get(ctx, meta.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if _, err := s.cli.Put(ctx, MetaKey(meta.ID), string(data), clientv3.WithLease(lease)); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	return nil
}

// List implements Store
func (s *EtcdStore) List(ctx context.Context) ([]string, error) {
	resp, err := s.cli.Get(ctx, IndexPrefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	ids := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ids = append(ids, strings.TrimPrefix(string(kv.Key), IndexPrefix))
	}
	return ids, nil
}

// SetFlag implements Store
func (s *EtcdStore) SetFlag(ctx context.Context, id string, flag Flag) error {
	_, lease, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.cli.Put(ctx, FlagKey(id, flag), "1", clientv3.WithLease(lease)); err != nil {
		return fmt.Errorf("set %s flag: %w", flag, err)
	}
	return nil
}

// ClearFlags implements Store
func (s *EtcdStore) ClearFlags(ctx context.Context, id string) error {
	_, err := s.cli.Txn(ctx).Then(
		clientv3.OpDelete(FlagKey(id, FlagPause)),
		clientv3.OpDelete(FlagKey(id, FlagCancel)),
	).Commit()
	if err != nil {
		return fmt.Errorf("clear flags: %w", err)
	}
	return nil
}

// Flags implements Store
func (s *EtcdStore) Flags(ctx context.Context, id string) (bool, bool, error) {
	resp, err := s.cli.Get(ctx, MetaKey(id)+":", clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return false, false, fmt.Errorf("read flags: %w", err)
	}
	var pause, cancel bool
	for _, kv := range resp.Kvs {
		switch string(kv.Key) {
		case FlagKey(id, FlagPause):
			pause = true
		case FlagKey(id, FlagCancel):
			cancel = true
		}
	}
	return pause, cancel, nil
}

// WatchFlag implements Store
func (s *EtcdStore) WatchFlag(ctx context.Context, id string, flag Flag) (<-chan struct{}, error) {
	key := FlagKey(id, flag)
	resp, err := s.cli.Get(ctx, key, clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("read %s flag: %w", flag, err)
	}
	fired := make(chan struct{})
	if resp.Count > 0 {
		close(fired)
		return fired, nil
	}

	wch := s.cli.Watch(ctx, key, clientv3.WithRev(resp.Header.Revision+1))
	go func() {
		for wr := range wch {
			for _, ev := range wr.Events {
				if ev.Type == clientv3.EventTypePut {
					close(fired)
					return
				}
			}
		}
	}()
	return fired, nil
}

// Renew implements Store
func (s *EtcdStore) Renew(ctx context.Context, id string) error {
	_, lease, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.cli.KeepAliveOnce(ctx, lease); err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	return nil
}

// Delete implements Store
func (s *EtcdStore) Delete(ctx context.Context, id string) error {
	_, lease, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.cli.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}

// Close implements Store
func (s *EtcdStore) Close() error {
	return s.cli.Close()
}

func (s *EtcdStore) get(ctx context.Context, id string) (Meta, clientv3.LeaseID, error) {
	resp, err := s.cli.Get(ctx, MetaKey(id))
	if err != nil {
		return Meta{}, 0, fmt.Errorf("read meta: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return Meta{}, 0, ErrNotFound
	}
	kv := resp.Kvs[0]
	var meta Meta
	if err := json.Unmarshal(kv.Value, &meta); err != nil {
		return Meta{}, 0, fmt.Errorf("decode meta: %w", err)
	}
	return meta, clientv3.LeaseID(kv.Lease), nil
}
