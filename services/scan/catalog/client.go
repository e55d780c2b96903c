// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog fetches rulesets from the remote rule catalog.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// Sentinel errors for catalog access.
var (
	// ErrRuleSetNotFound indicates the catalog has no ruleset of that name.
	ErrRuleSetNotFound = errors.New("ruleset not found")

	// ErrCatalogResponse indicates a response that is not a valid ruleset.
	ErrCatalogResponse = errors.New("invalid catalog response")
)

// maxResponseBytes bounds a single ruleset response.
const maxResponseBytes = 32 * 1024 * 1024

// apiResponse is the JSON:API envelope of a ruleset.
type apiResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Name        string       `json:"name"`
			Description *string      `json:"description"`
			Rules       []rules.Rule `json:"rules"`
		} `json:"attributes"`
	} `json:"data"`
}

// Client fetches rulesets.
//
// Description:
//
//	Requests are rate limited, and concurrent fetches of the same ruleset
//	share a single request. When a Cache is configured, fresh cached
//	rulesets are served without a request and fetched rulesets are stored.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Client struct {
	creds   Credentials
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	flight  singleflight.Group
	cache   *Cache
	logger  *slog.Logger
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBaseURL overrides the catalog endpoint, which is otherwise derived
// from the credentials' site.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithRateLimit sets the request rate limit.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithCache enables the ruleset cache.
func WithCache(cache *Cache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for creds.
func NewClient(creds Credentials, opts ...ClientOption) *Client {
	site := creds.Site
	if site == "" {
		site = DefaultSite
	}
	c := &Client{
		creds:   creds,
		baseURL: "https://api." + site,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RuleSetURL returns the endpoint of the ruleset name.
func (c *Client) RuleSetURL(name string) string {
	return c.baseURL + "/api/v2/static-analysis/rulesets/" + url.PathEscape(name)
}

// FetchRuleSet returns the ruleset name.
//
// Outputs:
//
//	*rules.RuleSet - The ruleset as published, checksums not yet verified.
//	error          - ErrRuleSetNotFound, ErrCatalogResponse, a transport
//	                 error or ctx.Err().
func (c *Client) FetchRuleSet(ctx context.Context, name string) (*rules.RuleSet, error) {
	if c.cache != nil {
		if set, ok := c.cache.Get(name); ok {
			c.logger.Debug("ruleset served from cache", slog.String("ruleset", name))
			return set, nil
		}
	}

	v, err, _ := c.flight.Do(name, func() (interface{}, error) {
		return c.fetch(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	set := v.(*rules.RuleSet)

	if c.cache != nil {
		if err := c.cache.Put(name, set); err != nil {
			c.logger.Warn("cannot cache ruleset", slog.String("ruleset", name), slog.String("error", err.Error()))
		}
	}
	return set, nil
}

// FetchRules fetches every ruleset in names and concatenates their rules
// in order.
func (c *Client) FetchRules(ctx context.Context, names []string) ([]rules.Rule, error) {
	var out []rules.Rule
	for _, name := range names {
		set, err := c.FetchRuleSet(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, set.Rules...)
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, name string) (*rules.RuleSet, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RuleSetURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("building request for ruleset %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.creds.HasKeys() {
		apiKey, appKey, err := c.creds.keys()
		if err != nil {
			return nil, fmt.Errorf("opening credentials: %w", err)
		}
		req.Header.Set("dd-api-key", apiKey)
		req.Header.Set("dd-application-key", appKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying ruleset %s: %w", name, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("ruleset fetched",
		slog.String("ruleset", name),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRuleSetNotFound, name)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: ruleset %s: status %d", ErrCatalogResponse, name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading ruleset %s: %w", name, err)
	}
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: ruleset %s: %v", ErrCatalogResponse, name, err)
	}

	setName := parsed.Data.Attributes.Name
	if setName == "" {
		setName = parsed.Data.ID
	}
	if setName == "" {
		setName = name
	}
	return &rules.RuleSet{
		Name:        setName,
		Description: parsed.Data.Attributes.Description,
		Rules:       parsed.Data.Attributes.Rules,
	}, nil
}
