// ABOUTME: Two-tier flow state persistence: best-effort in-process cache over durable storage
// ABOUTME: Reads fill the cache on miss; writes and deletes go through both tiers

package authflow

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/2389/coven-agenthost/internal/flowcache"
	"github.com/2389/coven-agenthost/internal/storage"
)

// FlowStorageClient reads and writes FlowState records.
//
// The cache gives no cross-request consistency: concurrent turns for the same
// key may interleave and the last write wins. Concurrent cache misses for one
// key share a single storage read; writes are never coalesced.
type FlowStorageClient struct {
	store storage.Storage
	cache *flowcache.Cache
	reads singleflight.Group
}

// NewFlowStorageClient creates a client. cache may be nil to disable caching.
func NewFlowStorageClient(store storage.Storage, cache *flowcache.Cache) *FlowStorageClient {
	return &FlowStorageClient{store: store, cache: cache}
}

// Read returns the state stored under key, or nil if there is none.
func (c *FlowStorageClient) Read(ctx context.Context, key string) (*FlowState, error) {
	if c.cache != nil {
		if raw, ok := c.cache.Get(key); ok {
			return decodeState(raw)
		}
	}

	// coalesced readers share one storage read, so a caller going away must
	// not cancel it for the others
	shared := context.WithoutCancel(ctx)
	ch := c.reads.DoChan(key, func() (any, error) {
		items, err := c.store.Read(shared, []string{key})
		if err != nil {
			return nil, err
		}
		raw, ok := items[key]
		if !ok {
			return []byte(nil), nil
		}
		if c.cache != nil {
			c.cache.Set(key, raw)
		}
		return []byte(raw), nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("reading flow state %q: %w", key, ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("reading flow state %q: %w", key, res.Err)
	}

	raw, _ := res.Val.([]byte)
	if raw == nil {
		return nil, nil
	}
	return decodeState(raw)
}

// Write persists state under key, storage first and then the cache.
func (c *FlowStorageClient) Write(ctx context.Context, key string, state FlowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding flow state: %w", err)
	}
	if err := c.store.Write(ctx, map[string]json.RawMessage{key: raw}); err != nil {
		return fmt.Errorf("writing flow state %q: %w", key, err)
	}
	if c.cache != nil {
		c.cache.Set(key, raw)
	}
	return nil
}

// Delete removes key from storage and then from the cache, so a concurrent
// miss cannot refill the cache with the deleted record. Deleting a missing
// key is not an error.
func (c *FlowStorageClient) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, []string{key}); err != nil {
		return fmt.Errorf("deleting flow state %q: %w", key, err)
	}
	if c.cache != nil {
		c.cache.Delete(key)
	}
	return nil
}

func decodeState(raw []byte) (*FlowState, error) {
	var s FlowState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding flow state: %w", err)
	}
	return &s, nil
}
