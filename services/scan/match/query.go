// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package match runs tree-sitter queries against parsed files and turns
// each query match into a MatchContext for the rule executor.
package match

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// ErrInvalidQuery indicates a rule query that does not compile against the
// grammar. Reported as rules.CodeInvalidQuery.
var ErrInvalidQuery = errors.New("invalid tree-sitter query")

// Query is a compiled tree-sitter query for one rule and one grammar.
//
// Thread Safety:
//
//	Immutable after Compile. Safe to run from many goroutines at once; each
//	MatchRule call uses its own cursor.
type Query struct {
	ruleName     string
	query        *sitter.Query
	language     *sitter.Language
	captureNames []string
}

// Compile compiles the decoded query of rule against lang.
//
// Outputs:
//
//	*Query - The compiled query. Release with Close when no longer cached.
//	error  - ErrInvalidQuery wrapping the tree-sitter error.
func Compile(rule *rules.DecodedRule, lang *sitter.Language) (*Query, error) {
	if lang == nil {
		return nil, fmt.Errorf("%w: rule %s: no grammar", ErrInvalidQuery, rule.Name)
	}
	q, err := sitter.NewQuery([]byte(rule.Query), lang)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %w", ErrInvalidQuery, rule.Name, err)
	}

	names := make([]string, q.CaptureCount())
	for i := range names {
		names[i] = q.CaptureNameForId(uint32(i))
	}

	return &Query{
		ruleName:     rule.Name,
		query:        q,
		language:     lang,
		captureNames: names,
	}, nil
}

// RuleName returns the name of the rule the query belongs to.
func (q *Query) RuleName() string { return q.ruleName }

// CaptureNames returns the capture names declared by the query, in id order.
func (q *Query) CaptureNames() []string { return q.captureNames }

// Close releases the tree-sitter query.
func (q *Query) Close() {
	if q.query != nil {
		q.query.Close()
		q.query = nil
	}
}

// =============================================================================
// QUERY CACHE
// =============================================================================

// DefaultQueryCacheSize is the number of compiled queries a QueryCache
// keeps when no size is given.
const DefaultQueryCacheSize = 4096

type queryKey struct {
	rule     string
	checksum string
	language *sitter.Language
}

type cacheEntry struct {
	query *Query
	err   error
}

// QueryCache holds compiled queries keyed by rule and grammar so that each
// query is compiled once per run. Compile failures are cached too.
//
// Description:
//
//	The cache keeps at most size entries and evicts the least recently
//	used one. An evicted query is not closed: a matcher may still hold it,
//	and tree-sitter frees it once it is unreachable.
//
// Thread Safety:
//
//	Safe for concurrent use.
type QueryCache struct {
	mu      sync.Mutex
	entries *lru.Cache[queryKey, cacheEntry]
}

// NewQueryCache creates an empty cache holding at most size queries.
// Non-positive sizes use DefaultQueryCacheSize.
func NewQueryCache(size int) *QueryCache {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	entries, err := lru.New[queryKey, cacheEntry](size)
	if err != nil {
		panic(fmt.Sprintf("match: query cache of size %d: %v", size, err))
	}
	return &QueryCache{entries: entries}
}

// Get returns the compiled query for rule and lang, compiling it on first
// use.
func (c *QueryCache) Get(rule *rules.DecodedRule, lang *sitter.Language) (*Query, error) {
	key := queryKey{rule: rule.Name, checksum: rule.Checksum, language: lang}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries.Get(key); ok {
		return e.query, e.err
	}
	q, err := Compile(rule, lang)
	c.entries.Add(key, cacheEntry{query: q, err: err})
	return q, err
}

// Len returns the number of cached entries, failures included.
func (c *QueryCache) Len() int {
	return c.entries.Len()
}

// Close releases every cached query. The cache is empty afterwards.
func (c *QueryCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries.Values() {
		if e.query != nil {
			e.query.Close()
		}
	}
	c.entries.Purge()
}
