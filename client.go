/*
Copyright (c) 2013, Richard Johnson
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:
 * Redistributions of source code must retain the above copyright notice, this
   list of conditions and the following disclaimer.
 * Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND
ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED
WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
*/

// Package sbv2 ties the canonicalizer, hasher, chunk codec, storage,
// small-config, HTTP, update and lookup packages together into the
// single entry point an application imports.
package sbv2

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gosafebrowsing/sbv2/httpclient"
	"github.com/gosafebrowsing/sbv2/lookup"
	"github.com/gosafebrowsing/sbv2/smallconfig"
	"github.com/gosafebrowsing/sbv2/storage"
	"github.com/gosafebrowsing/sbv2/update"
)

// Config configures a Client. APIKey and at least one list are required
// unless Offline is set.
type Config struct {
	APIKey            string
	Lists             []string
	AutoDiscoverLists bool
	// Offline skips every network call, serving lookups out of whatever
	// is already in Storage. Useful for tests and for bootstrapping
	// against a pre-seeded data directory.
	Offline bool
	// DataDir holds the small-config state file (sync.toml) when
	// ConfigStore isn't supplied directly. Required unless ConfigStore is
	// set or Offline is set.
	DataDir string
	// Storage and ConfigStore let a caller supply its own backends in
	// place of the in-memory/file-backed defaults.
	Storage     storage.Storage
	ConfigStore smallconfig.Store

	HTTPTimeout        time.Duration
	InsecureSkipVerify bool

	// Server overrides the safebrowsing API root for both the update and
	// lookup engines. Empty means the production endpoint.
	Server string
	// MacServer overrides the root used for the MAC "newkey" handshake.
	// Empty means Server (the production deployment serves both from the
	// same root, but the protocol allows them to differ).
	MacServer string
	// Version is the pver query parameter sent on every request. Empty
	// means the protocol's current version, "2.2".
	Version string
	// CacheTime bounds how long a cached full hash is trusted before a
	// strict lookup re-checks it against the server. Zero means the
	// lookup engine's default of 45 minutes.
	CacheTime time.Duration
	// DefaultRetry is the wait reported when an update can't determine a
	// more specific one. Zero means the update engine's default of 30s.
	DefaultRetry time.Duration

	// MAC enables HMAC-SHA1 validation of update responses and redirect
	// payloads using the client/wrapped key handshake.
	MAC bool

	Logger *slog.Logger
}

// Client is the application-facing Safe Browsing v2 client: it drives
// periodic list updates and answers lookup queries against whatever the
// updates have accumulated.
type Client struct {
	update *update.Engine
	lookup *lookup.Engine
	logger *slog.Logger
}

// New constructs a Client, wiring a storage backend and config store
// (in-memory/TOML-file defaults unless cfg overrides them) into an
// update engine and a lookup engine that share them.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := cfg.Storage
	if st == nil {
		st = storage.NewMemory()
	}

	cs := cfg.ConfigStore
	if cs == nil {
		if cfg.DataDir == "" && !cfg.Offline {
			return nil, fmt.Errorf("sbv2: DataDir or ConfigStore required")
		}
		if cfg.DataDir != "" {
			f, err := smallconfig.NewFile(filepath.Join(cfg.DataDir, "sync.toml"))
			if err != nil {
				return nil, fmt.Errorf("opening config store: %w", err)
			}
			cs = f
		}
	}

	httpClient := httpclient.New(httpclient.Config{
		Timeout:            cfg.HTTPTimeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})

	ue := update.New(update.Config{
		APIKey:            cfg.APIKey,
		Lists:             cfg.Lists,
		AutoDiscoverLists: cfg.AutoDiscoverLists,
		Offline:           cfg.Offline,
		BaseURL:           cfg.Server,
		MacBaseURL:        cfg.MacServer,
		Version:           cfg.Version,
		DefaultRetry:      cfg.DefaultRetry,
		MACEnabled:        cfg.MAC,
		Logger:            logger,
	}, httpClient, st, cs)

	le := lookup.New(lookup.Config{
		APIKey:    cfg.APIKey,
		Lists:     cfg.Lists,
		BaseURL:   cfg.Server,
		Version:   cfg.Version,
		CacheTime: cfg.CacheTime,
		Logger:    logger,
	}, httpClient, st, cs)

	return &Client{update: ue, lookup: le, logger: logger}, nil
}

// Update runs one update cycle against every configured list, applying
// the server's add/sub chunks to storage. It returns the interval the
// server asked the client to wait before its next poll.
func (c *Client) Update(ctx context.Context) (time.Duration, error) {
	return c.update.Update(ctx)
}

// RunUpdateLoop drives Update forever, on the server's own schedule,
// until ctx is cancelled.
func (c *Client) RunUpdateLoop(ctx context.Context) {
	c.update.RunLoop(ctx)
}

// IsListed runs a strict (full-hash-confirmed) lookup and reports the
// first list rawURL was found on, or "" if it matched nothing.
func (c *Client) IsListed(ctx context.Context, rawURL string) (string, error) {
	matches, err := c.lookup.Confirm(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0].List, nil
}

// MightBeListed runs the lenient, prefix-only lookup: fast, never
// touches the network, occasionally a false positive.
func (c *Client) MightBeListed(ctx context.Context, rawURL string) (bool, error) {
	return c.lookup.Probe(ctx, rawURL)
}

// LastUpdated reports when the update engine last completed a cycle
// successfully.
func (c *Client) LastUpdated() time.Time {
	return c.update.LastUpdated()
}
