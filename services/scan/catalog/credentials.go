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
	"github.com/awnumar/memguard"
)

// DefaultSite is used when no site is configured.
const DefaultSite = "datadoghq.com"

// envPrefixes are tried in order; the first defined variable wins.
var envPrefixes = []string{"DD_", "DATADOG_"}

// Credentials identify the caller to the rule catalog.
//
// Description:
//
//	API and application keys are sealed in memguard enclaves as soon as
//	they are read and are only opened while a request header is built.
//	Credentials are built once at startup and passed explicitly; nothing
//	reads the environment afterwards.
type Credentials struct {
	Site   string
	apiKey *memguard.Enclave
	appKey *memguard.Enclave
}

// NewCredentials seals the given keys. Empty keys are treated as absent.
func NewCredentials(site, apiKey, appKey string) Credentials {
	if site == "" {
		site = DefaultSite
	}
	return Credentials{
		Site:   site,
		apiKey: seal(apiKey),
		appKey: seal(appKey),
	}
}

// CredentialsFromEnv resolves SITE, API_KEY and APP_KEY through lookup,
// trying the DD_ prefix before DATADOG_.
//
// Inputs:
//
//	lookup - Usually os.LookupEnv.
func CredentialsFromEnv(lookup func(string) (string, bool)) Credentials {
	get := func(name string) string {
		for _, prefix := range envPrefixes {
			if v, ok := lookup(prefix + name); ok {
				return v
			}
		}
		return ""
	}
	return NewCredentials(get("SITE"), get("API_KEY"), get("APP_KEY"))
}

// HasKeys reports whether both keys are present. Authentication headers
// are only sent when they are.
func (c Credentials) HasKeys() bool {
	return c.apiKey != nil && c.appKey != nil
}

// keys opens both enclaves.
func (c Credentials) keys() (apiKey, appKey string, err error) {
	apiKey, err = open(c.apiKey)
	if err != nil {
		return "", "", err
	}
	appKey, err = open(c.appKey)
	if err != nil {
		return "", "", err
	}
	return apiKey, appKey, nil
}

func seal(s string) *memguard.Enclave {
	if s == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(s))
}

func open(e *memguard.Enclave) (string, error) {
	if e == nil {
		return "", nil
	}
	buf, err := e.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}
