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
// Package lookup implements the two-stage URL lookup algorithm: a cheap
// local prefix match against stored chunk data, confirmed (when strict
// confirmation is requested) against a full 32-byte hash either cached
// from a previous gethash round trip or fetched fresh from the server.
package lookup

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gosafebrowsing/sbv2/canon"
	"github.com/gosafebrowsing/sbv2/chunkcodec"
	"github.com/gosafebrowsing/sbv2/hashing"
	"github.com/gosafebrowsing/sbv2/httpclient"
	"github.com/gosafebrowsing/sbv2/smallconfig"
	"github.com/gosafebrowsing/sbv2/storage"
)

const (
	defaultBaseURL  = "https://safebrowsing.clients.google.com/safebrowsing"
	defaultProtoVer = "2.2"

	// defaultCacheTime bounds how long a cached full hash is trusted
	// before a strict Confirm re-checks it against the server.
	defaultCacheTime = 2700 * time.Second

	fullHashErrorsPrefix = "full_hash_errors/"
)

// Config holds the fixed parameters of a lookup Engine.
type Config struct {
	APIKey     string
	Client     string
	AppVersion string
	Lists      []string
	BaseURL    string
	// Version is the pver query parameter sent on every gethash request.
	// Empty means defaultProtoVer ("2.2").
	Version string
	// CacheTime bounds how long a cached full hash is trusted before a
	// strict Confirm re-checks it against the server. Zero means
	// defaultCacheTime (2700s).
	CacheTime time.Duration
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Client == "" {
		c.Client = "api"
	}
	if c.AppVersion == "" {
		c.AppVersion = "1.0"
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Version == "" {
		c.Version = defaultProtoVer
	}
	if c.CacheTime == 0 {
		c.CacheTime = defaultCacheTime
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine answers whether a URL is listed, either leniently (prefix match
// only) or strictly (prefix match confirmed against a full hash).
type Engine struct {
	cfg     Config
	http    *httpclient.Client
	storage storage.Storage
	config  smallconfig.Store
}

// New builds an Engine. http, st and sc must be non-nil.
func New(cfg Config, httpClient *httpclient.Client, st storage.Storage, sc smallconfig.Store) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		http:    httpClient,
		storage: st,
		config:  sc,
	}
}

// Config returns the engine's resolved configuration, defaults applied.
func (e *Engine) Config() Config {
	return e.cfg
}

// Match describes one list that a lookup matched against.
type Match struct {
	List string
	Host hashing.HostKey
	Full hashing.FullHash
}

// Probe runs the lenient lookup: it reports whether any candidate form
// of rawURL matches a locally stored prefix, without ever contacting the
// server. Suitable for a fast advisory check where an occasional false
// positive is acceptable.
func (e *Engine) Probe(ctx context.Context, rawURL string) (bool, error) {
	for _, c := range candidateHosts(rawURL) {
		full := hashing.Hash(c.candidate)
		prefix := hashing.PrefixOf(full)
		for _, list := range e.cfg.Lists {
			found, err := e.storage.LookupPrefix(ctx, list, hashing.ComputeHostKey(c.host), prefix.Bytes())
			if err != nil {
				return false, fmt.Errorf("looking up prefix: %w", err)
			}
			if found {
				return true, nil
			}
		}
	}
	return false, nil
}

// Confirm runs the strict lookup: a local prefix match is only trusted
// once it is confirmed against a full hash, live or cached. It returns
// the list(s) the URL was confirmed against.
func (e *Engine) Confirm(ctx context.Context, rawURL string) ([]Match, error) {
	var matches []Match
	pending := map[hashing.HostKey][]pendingPrefix{}

	for _, c := range candidateHosts(rawURL) {
		full := hashing.Hash(c.candidate)
		prefix := hashing.PrefixOf(full)
		hostKey := hashing.ComputeHostKey(c.host)

		for _, list := range e.cfg.Lists {
			found, err := e.storage.LookupPrefix(ctx, list, hostKey, prefix.Bytes())
			if err != nil {
				return nil, fmt.Errorf("looking up prefix: %w", err)
			}
			if !found {
				continue
			}

			cached, err := e.cachedFullHash(ctx, list, hostKey, full)
			if err != nil {
				return nil, err
			}
			if cached {
				matches = append(matches, Match{List: list, Host: hostKey, Full: full})
				continue
			}
			pending[hostKey] = append(pending[hostKey], pendingPrefix{list: list, prefix: prefix, full: full})
		}
	}

	for hostKey, prefixes := range pending {
		confirmed, err := e.confirmViaServer(ctx, hostKey, prefixes)
		if err != nil {
			e.cfg.Logger.Warn("full hash confirmation failed", "host", hostKey, "err", err)
			continue
		}
		matches = append(matches, confirmed...)
	}

	return matches, nil
}

type pendingPrefix struct {
	list   string
	prefix hashing.Prefix
	full   hashing.FullHash
}

// cachedFullHash reports whether full is already cached under host for
// list with a FetchedAt timestamp inside the staleness window. Storage
// itself evicts any entry older than that window as it's read, so a
// cached-but-stale row for a different hash under the same host never
// masks this lookup into reporting full as fresh.
func (e *Engine) cachedFullHash(ctx context.Context, list string, host hashing.HostKey, full hashing.FullHash) (bool, error) {
	entries, err := e.storage.FullHashes(ctx, list, host, time.Now().Add(-e.cfg.CacheTime))
	if err != nil {
		return false, fmt.Errorf("reading cached full hashes: %w", err)
	}
	for _, cached := range entries {
		if cached.Hash == full {
			return true, nil
		}
	}
	return false, nil
}

// confirmViaServer issues a gethash request for the given prefixes under
// one host and reports which pending matches it confirmed. A prefix with
// too many recent failures is skipped per the backoff schedule.
func (e *Engine) confirmViaServer(ctx context.Context, host hashing.HostKey, prefixes []pendingPrefix) ([]Match, error) {
	due := prefixes[:0]
	for _, p := range prefixes {
		ok, err := e.dueForRetry(ctx, p.prefix)
		if err != nil {
			return nil, err
		}
		if ok {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	body := buildGetHashRequest(due)
	url := fmt.Sprintf("%s/gethash?client=%s&apikey=%s&appver=%s&pver=%s",
		e.cfg.BaseURL, e.cfg.Client, e.cfg.APIKey, e.cfg.AppVersion, e.cfg.Version)
	status, respBody, err := e.http.Request(ctx, url, body, true)
	if err != nil {
		e.recordFailure(ctx, due)
		return nil, fmt.Errorf("requesting full hashes: %w", err)
	}
	if status != 200 {
		e.recordFailure(ctx, due)
		return nil, fmt.Errorf("gethash endpoint returned status %d", status)
	}

	blocks, err := chunkcodec.ReadFullHashResponse(bytes.NewReader(respBody))
	if err != nil {
		return nil, fmt.Errorf("parsing gethash response: %w", err)
	}

	type confirmedHash struct {
		list     string
		chunkNum chunkcodec.ChunkNum
	}
	confirmedFull := map[hashing.FullHash]confirmedHash{}
	for _, b := range blocks {
		for _, h := range b.Hashes {
			confirmedFull[hashing.FullHash(h)] = confirmedHash{list: b.List, chunkNum: b.ChunkNum}
		}
	}

	now := time.Now()
	var matches []Match
	for _, p := range due {
		e.clearFailure(ctx, p.prefix)
		c, ok := confirmedFull[p.full]
		if !ok {
			continue
		}
		list := c.list
		if err := e.storage.StoreFullHash(ctx, list, host, c.chunkNum, p.full, now); err != nil {
			return nil, fmt.Errorf("caching full hash: %w", err)
		}
		matches = append(matches, Match{List: list, Host: host, Full: p.full})
	}
	return matches, nil
}

func buildGetHashRequest(prefixes []pendingPrefix) string {
	var b strings.Builder
	fmt.Fprintf(&b, "4:%d\n", len(prefixes)*4)
	for _, p := range prefixes {
		b.Write(p.prefix.Bytes())
	}
	return b.String()
}

// dueForRetry applies the per-prefix full-hash failure backoff: the
// first two failures are free (retried immediately), the third through
// fifth widen the wait, and anything beyond is capped.
func (e *Engine) dueForRetry(ctx context.Context, prefix hashing.Prefix) (bool, error) {
	key := fullHashErrorsPrefix + hex.EncodeToString(prefix.Bytes())
	raw, found, err := e.config.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reading full-hash error state: %w", err)
	}
	if !found {
		return true, nil
	}
	parts := strings.SplitN(raw, ";", 2)
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return true, nil
	}
	wait := fullHashBackoff(count)
	if wait == 0 || len(parts) < 2 {
		return true, nil
	}
	lastFailure, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return true, nil
	}
	return time.Since(lastFailure) >= wait, nil
}

// fullHashBackoff implements the "first error free" retry schedule: the
// first two failed gethash attempts for a prefix cost nothing, the third
// waits half an hour, the fourth an hour, and the fifth onward two
// hours.
func fullHashBackoff(failureCount int) time.Duration {
	switch {
	case failureCount <= 2:
		return 0
	case failureCount == 3:
		return 30 * time.Minute
	case failureCount == 4:
		return 60 * time.Minute
	default:
		return 120 * time.Minute
	}
}

func (e *Engine) recordFailure(ctx context.Context, prefixes []pendingPrefix) {
	for _, p := range prefixes {
		key := fullHashErrorsPrefix + hex.EncodeToString(p.prefix.Bytes())
		raw, found, err := e.config.Get(ctx, key)
		if err != nil {
			e.cfg.Logger.Warn("failed to read full-hash error state", "err", err)
		}
		count := 0
		if found {
			if n, convErr := strconv.Atoi(strings.SplitN(raw, ";", 2)[0]); convErr == nil {
				count = n
			}
		}
		count++
		value := fmt.Sprintf("%d;%s", count, time.Now().Format(time.RFC3339))
		if err := e.config.Set(ctx, key, value); err != nil {
			e.cfg.Logger.Warn("failed to persist full-hash error state", "err", err)
		}
	}
}

func (e *Engine) clearFailure(ctx context.Context, prefix hashing.Prefix) {
	key := fullHashErrorsPrefix + hex.EncodeToString(prefix.Bytes())
	if err := e.config.Delete(ctx, key); err != nil {
		e.cfg.Logger.Warn("failed to clear full-hash error state", "err", err)
	}
}

type candidateHost struct {
	host      string
	candidate string
}

// candidateHosts expands rawURL into its lookup candidates, pairing each
// with the host portion used to compute its storage host key.
func candidateHosts(rawURL string) []candidateHost {
	out := make([]candidateHost, 0, 30)
	for _, c := range canon.Candidates(rawURL) {
		idx := strings.IndexByte(c, '/')
		if idx < 0 {
			continue
		}
		out = append(out, candidateHost{host: c[:idx], candidate: c})
	}
	return out
}
