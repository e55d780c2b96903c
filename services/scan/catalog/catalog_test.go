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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

// =============================================================================
// Credentials Tests
// =============================================================================

func TestCredentialsFromEnv(t *testing.T) {
	creds := CredentialsFromEnv(envOf(map[string]string{
		"DD_SITE":          "datadoghq.eu",
		"DATADOG_SITE":     "ignored.com",
		"DATADOG_API_KEY":  "api",
		"DD_APP_KEY":       "app",
	}))
	assert.Equal(t, "datadoghq.eu", creds.Site)
	require.True(t, creds.HasKeys())
	apiKey, appKey, err := creds.keys()
	require.NoError(t, err)
	assert.Equal(t, "api", apiKey)
	assert.Equal(t, "app", appKey)
}

func TestCredentialsFromEnv_Defaults(t *testing.T) {
	creds := CredentialsFromEnv(envOf(map[string]string{"DD_API_KEY": "only-api"}))
	assert.Equal(t, DefaultSite, creds.Site)
	assert.False(t, creds.HasKeys())

	c := NewClient(creds)
	assert.Equal(t, "https://api.datadoghq.com/api/v2/static-analysis/rulesets/python-security", c.RuleSetURL("python-security"))
}

// =============================================================================
// Client Tests
// =============================================================================

func rulesetBody(t *testing.T, name string, rs ...rules.Rule) []byte {
	t.Helper()
	body := map[string]any{
		"data": map[string]any{
			"id":   name,
			"type": "rulesets",
			"attributes": map[string]any{
				"name":  name,
				"rules": rs,
			},
		},
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return data
}

func TestFetchRuleSet(t *testing.T) {
	rule := rules.NewTreeSitterRule("python-security/no-eval", ast.LanguagePython, "(call) @c", "function visit() {}")

	var gotAPIKey, gotAppKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("dd-api-key")
		gotAppKey = r.Header.Get("dd-application-key")
		gotPath = r.URL.Path
		_, _ = w.Write(rulesetBody(t, "python-security", rule))
	}))
	defer srv.Close()

	c := NewClient(NewCredentials("", "k1", "k2"), WithBaseURL(srv.URL))
	set, err := c.FetchRuleSet(context.Background(), "python-security")
	require.NoError(t, err)

	assert.Equal(t, "/api/v2/static-analysis/rulesets/python-security", gotPath)
	assert.Equal(t, "k1", gotAPIKey)
	assert.Equal(t, "k2", gotAppKey)
	assert.Equal(t, "python-security", set.Name)
	require.Len(t, set.Rules, 1)

	_, err = rules.Verify(&set.Rules[0])
	assert.NoError(t, err)
}

func TestFetchRuleSet_NoKeysNoHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("dd-api-key"))
		assert.Empty(t, r.Header.Get("dd-application-key"))
		_, _ = w.Write(rulesetBody(t, "x"))
	}))
	defer srv.Close()

	c := NewClient(NewCredentials("", "api-only", ""), WithBaseURL(srv.URL))
	_, err := c.FetchRuleSet(context.Background(), "x")
	assert.NoError(t, err)
}

func TestFetchRuleSet_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/missing"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/broken"):
			_, _ = w.Write([]byte("not json"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(Credentials{}, WithBaseURL(srv.URL))
	_, err := c.FetchRuleSet(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRuleSetNotFound)
	_, err = c.FetchRuleSet(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrCatalogResponse)
	_, err = c.FetchRuleSet(context.Background(), "other")
	assert.ErrorIs(t, err, ErrCatalogResponse)
}

func TestFetchRules_ConcatenatesInOrder(t *testing.T) {
	r1 := rules.NewTreeSitterRule("a/1", ast.LanguagePython, "(call) @c", "function visit() {}")
	r2 := rules.NewTreeSitterRule("b/1", ast.LanguageGo, "(call_expression) @c", "function visit() {}")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/a") {
			_, _ = w.Write(rulesetBody(t, "a", r1))
			return
		}
		_, _ = w.Write(rulesetBody(t, "b", r2))
	}))
	defer srv.Close()

	c := NewClient(Credentials{}, WithBaseURL(srv.URL))
	got, err := c.FetchRules(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a/1", got[0].Name)
	assert.Equal(t, "b/1", got[1].Name)
}

func TestFetchRuleSet_CollapsesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write(rulesetBody(t, "x"))
	}))
	defer srv.Close()

	c := NewClient(Credentials{}, WithBaseURL(srv.URL), WithRateLimit(rate.Inf, 1))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchRuleSet(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestCache_ServesFreshEntries(t *testing.T) {
	cache, err := OpenCache(CacheConfig{InMemory: true})
	require.NoError(t, err)
	defer cache.Close()

	rule := rules.NewTreeSitterRule("a/1", ast.LanguagePython, "(call) @c", "function visit() {}")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(rulesetBody(t, "a", rule))
	}))
	defer srv.Close()

	c := NewClient(Credentials{}, WithBaseURL(srv.URL), WithCache(cache))
	for range 3 {
		set, err := c.FetchRuleSet(context.Background(), "a")
		require.NoError(t, err)
		require.Len(t, set.Rules, 1)
		assert.Equal(t, ast.LanguagePython, set.Rules[0].Language)
		_, err = rules.Verify(&set.Rules[0])
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestCache_Miss(t *testing.T) {
	cache, err := OpenCache(CacheConfig{InMemory: true, TTL: time.Minute})
	require.NoError(t, err)
	defer cache.Close()

	_, ok := cache.Get("nothing")
	assert.False(t, ok)

	_, err = OpenCache(CacheConfig{})
	assert.Error(t, err)
}
