package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"

	"github.com/orneryd/storefront/pkg/audit"
)

// AppendAudit stores rec with a TTL running until rec.ExpiresAt, together
// with its email and IP index entries. Badger drops all three on expiry.
func (b *BadgerEngine) AppendAudit(_ context.Context, rec *audit.Record) error {
	if rec == nil {
		return errors.New("nil audit record")
	}
	now := b.now()
	if rec.ID == "" {
		rec.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now.UTC()
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.Timestamp.Add(audit.RetentionPeriod)
	}
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		// already past retention
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	email := strings.ToLower(rec.Email)

	return b.update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(key(prefixAudit, rec.ID), data).WithTTL(ttl)); err != nil {
			return err
		}
		if email != "" {
			if err := txn.SetEntry(badger.NewEntry(key(prefixAuditEmail, email, rec.ID), nil).WithTTL(ttl)); err != nil {
				return err
			}
		}
		if rec.IPAddress != "" {
			if err := txn.SetEntry(badger.NewEntry(key(prefixAuditIP, rec.IPAddress, rec.ID), nil).WithTTL(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
}

// QueryAudit returns records matching q, newest first. An email or IP
// filter is served from its index; other filters scan the record space.
func (b *BadgerEngine) QueryAudit(_ context.Context, q audit.Query) ([]audit.Record, error) {
	q = q.Normalize()
	out := make([]audit.Record, 0, min(q.Limit, 64))

	err := b.view(func(txn *badger.Txn) error {
		switch {
		case q.Email != "":
			return b.scanAuditIndex(txn, indexPrefix(prefixAuditEmail, q.Email), q, &out)
		case q.IPAddress != "":
			return b.scanAuditIndex(txn, indexPrefix(prefixAuditIP, q.IPAddress), q, &out)
		default:
			return b.scanAuditRecords(txn, q, &out)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// reverseIterator iterates prefix from the largest key down.
func reverseIterator(txn *badger.Txn, prefix []byte, values bool) (*badger.Iterator, []byte) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = values
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	seek := append(append([]byte{}, prefix...), 0xFF)
	return it, seek
}

func (b *BadgerEngine) scanAuditRecords(txn *badger.Txn, q audit.Query, out *[]audit.Record) error {
	prefix := []byte{prefixAudit}
	it, seek := reverseIterator(txn, prefix, true)
	defer it.Close()

	for it.Seek(seek); it.ValidForPrefix(prefix) && len(*out) < q.Limit; it.Next() {
		var rec audit.Record
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if !q.Until.IsZero() && rec.Timestamp.After(q.Until) {
			continue
		}
		if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
			// keys are time ordered; everything further is older
			break
		}
		if q.Matches(&rec) {
			*out = append(*out, rec)
		}
	}
	return nil
}

func (b *BadgerEngine) scanAuditIndex(txn *badger.Txn, prefix []byte, q audit.Query, out *[]audit.Record) error {
	it, seek := reverseIterator(txn, prefix, false)
	defer it.Close()

	for it.Seek(seek); it.ValidForPrefix(prefix) && len(*out) < q.Limit; it.Next() {
		id := string(it.Item().Key()[len(prefix):])
		var rec audit.Record
		err := getJSON(txn, key(prefixAudit, id), &rec)
		if errors.Is(err, errNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
			break
		}
		if q.Matches(&rec) {
			*out = append(*out, rec)
		}
	}
	return nil
}

// CountAudit returns the number of live audit records.
func (b *BadgerEngine) CountAudit(_ context.Context) (int, error) {
	n := 0
	err := b.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixAudit}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

var _ audit.Store = (*BadgerEngine)(nil)
