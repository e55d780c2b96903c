// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// DefaultCacheTTL is how long a cached ruleset stays fresh.
const DefaultCacheTTL = time.Hour

const keyPrefix = "ruleset:"

// CacheConfig configures the ruleset cache.
type CacheConfig struct {
	// Path is the directory of the database. Ignored when InMemory is set.
	Path string

	// InMemory keeps the cache in RAM only.
	InMemory bool

	// TTL is the freshness window. Default: DefaultCacheTTL.
	TTL time.Duration

	// Logger receives BadgerDB's own log records. If nil, they are dropped.
	Logger *slog.Logger
}

// Cache stores fetched rulesets in BadgerDB, msgpack encoded, keyed by
// ruleset name. Entries expire after the TTL.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenCache opens the ruleset cache.
//
// Outputs:
//
//	*Cache - The cache. Caller must Close it.
//	error  - Missing path or a database failure.
func OpenCache(cfg CacheConfig) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ruleset cache: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Get returns the cached ruleset name if it is still fresh.
func (c *Cache) Get(name string) (*rules.RuleSet, bool) {
	var set rules.RuleSet
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &set)
		})
	})
	if err != nil {
		return nil, false
	}
	return &set, true
}

// Put stores set under name with the cache TTL.
func (c *Cache) Put(name string, set *rules.RuleSet) error {
	data, err := msgpack.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode ruleset %s: %w", name, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+name), data).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
