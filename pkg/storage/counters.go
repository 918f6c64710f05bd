package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/storefront/pkg/ratelimit"
)

// CounterStore is a ratelimit.Store over the engine. Counters are Badger
// entries whose TTL ends with the window, so they survive a restart and
// vanish on their own once the window closes.
type CounterStore struct {
	engine *BadgerEngine
}

// Counters returns the engine's rate-limit counter store.
func (b *BadgerEngine) Counters() *CounterStore {
	return &CounterStore{engine: b}
}

// Increment implements ratelimit.Store.
func (c *CounterStore) Increment(_ context.Context, k string, window time.Duration) (ratelimit.Entry, error) {
	var out ratelimit.Entry
	err := c.engine.update(func(txn *badger.Txn) error {
		now := c.engine.now()
		var e ratelimit.Entry
		err := getJSON(txn, key(prefixCounter, k), &e)
		switch {
		case errors.Is(err, errNotFound):
			e = ratelimit.Entry{ResetAt: now.Add(window)}
		case err != nil:
			return err
		case e.Expired(now):
			e = ratelimit.Entry{ResetAt: now.Add(window)}
		}
		e.Count++

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		ttl := e.ResetAt.Sub(now)
		if ttl < time.Second {
			ttl = time.Second
		}
		out = e
		return txn.SetEntry(badger.NewEntry(key(prefixCounter, k), data).WithTTL(ttl))
	})
	return out, err
}

// Get implements ratelimit.Store.
func (c *CounterStore) Get(_ context.Context, k string) (ratelimit.Entry, bool, error) {
	var e ratelimit.Entry
	err := c.engine.view(func(txn *badger.Txn) error {
		return getJSON(txn, key(prefixCounter, k), &e)
	})
	if errors.Is(err, errNotFound) {
		return ratelimit.Entry{}, false, nil
	}
	if err != nil {
		return ratelimit.Entry{}, false, err
	}
	if e.Expired(c.engine.now()) {
		return ratelimit.Entry{}, false, nil
	}
	return e, true, nil
}

// Expire implements ratelimit.Store.
func (c *CounterStore) Expire(_ context.Context, k string) error {
	return c.engine.update(func(txn *badger.Txn) error {
		return txn.Delete(key(prefixCounter, k))
	})
}

var _ ratelimit.Store = (*CounterStore)(nil)
