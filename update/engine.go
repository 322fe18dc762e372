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
// Package update implements the list-update engine: discovering which
// lists an API key can see, fetching the redirect list, following
// redirects to pull add/sub chunk data, and applying it to storage.
package update

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gosafebrowsing/sbv2/chunkcodec"
	"github.com/gosafebrowsing/sbv2/hashing"
	"github.com/gosafebrowsing/sbv2/httpclient"
	"github.com/gosafebrowsing/sbv2/mac"
	"github.com/gosafebrowsing/sbv2/smallconfig"
	"github.com/gosafebrowsing/sbv2/storage"
)

const (
	defaultBaseURL     = "https://safebrowsing.clients.google.com/safebrowsing"
	defaultProtoVer    = "2.2"
	defaultRetryPeriod = 30 * time.Second
	updatedKey         = "updated/"
	macKeysKey         = "mac_keys"
)

// Config describes one update engine's fixed parameters.
type Config struct {
	APIKey            string
	Client            string
	AppVersion        string
	Lists             []string
	AutoDiscoverLists bool
	// Offline, when set, skips every network call; Update returns at
	// once without touching Storage.
	Offline bool
	// BaseURL overrides the safebrowsing API root, used by tests to
	// point at a local server. Empty means the production endpoint.
	BaseURL string
	// MacBaseURL overrides the root used for the MAC "newkey" handshake.
	// Empty means BaseURL (the production deployment serves both from
	// the same root, but the protocol allows them to differ).
	MacBaseURL string
	// Version is the pver query parameter sent on every request. Empty
	// means defaultProtoVer ("2.2").
	Version string
	// DefaultRetry is the wait reported when an update can't determine
	// a more specific one (an in-flight collision, a malformed
	// response with no "n:" line). Empty means defaultRetryPeriod (30s).
	DefaultRetry time.Duration
	// MACEnabled turns on HMAC-SHA1 validation of update responses and
	// redirect payloads, per the client/wrapped key handshake.
	MACEnabled bool
	Logger     *slog.Logger
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
	if c.MacBaseURL == "" {
		c.MacBaseURL = c.BaseURL
	}
	if c.Version == "" {
		c.Version = defaultProtoVer
	}
	if c.DefaultRetry == 0 {
		c.DefaultRetry = defaultRetryPeriod
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine drives one client's worth of update cycles against a Storage
// and a small-config Store.
type Engine struct {
	cfg     Config
	http    *httpclient.Client
	storage storage.Storage
	config  smallconfig.Store

	inFlight int32 // guards against overlapping Update calls

	mu       sync.Mutex
	lists    map[string]bool
	keys     *mac.KeyPair
	lastGood time.Time
	rng      *rand.Rand
}

// New constructs an Engine. http, st and sc must be non-nil.
func New(cfg Config, httpClient *httpclient.Client, st storage.Storage, sc smallconfig.Store) *Engine {
	cfg = cfg.withDefaults()
	lists := make(map[string]bool, len(cfg.Lists))
	for _, l := range cfg.Lists {
		lists[l] = true
	}
	return &Engine{
		cfg:     cfg,
		http:    httpClient,
		storage: st,
		config:  sc,
		lists:   lists,
	}
}

// Config returns the engine's resolved configuration, defaults applied.
func (e *Engine) Config() Config {
	return e.cfg
}

// LastUpdated reports when Update last completed successfully.
func (e *Engine) LastUpdated() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastGood
}

// Update runs one full update cycle: list discovery (if enabled),
// fetching the redirect list, following each redirect, and applying the
// resulting chunks to storage. It returns the server's requested next
// poll interval.
//
// Only one Update may run at a time; a call that arrives while another
// is in flight is not an error. It reports the default retry interval
// immediately, the same as a caller who checked in and found nothing
// due yet.
func (e *Engine) Update(ctx context.Context) (time.Duration, error) {
	if !atomic.CompareAndSwapInt32(&e.inFlight, 0, 1) {
		return e.cfg.DefaultRetry, nil
	}
	defer atomic.StoreInt32(&e.inFlight, 0)

	if e.cfg.Offline {
		return 0, nil
	}

	if e.cfg.AutoDiscoverLists {
		if err := e.discoverLists(ctx); err != nil {
			return 0, fmt.Errorf("discovering lists: %w", err)
		}
	}

	delay, err := e.requestUpdates(ctx)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.lastGood = time.Now()
	e.mu.Unlock()

	return delay, nil
}

// randSource lazily initializes the engine's random source, so an
// Engine built directly as a struct literal (tests do this, bypassing
// New) still has a usable rng the first time it's needed for jittered
// backoff.
func (e *Engine) randSource() *rand.Rand {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e.rng
}

func (e *Engine) discoverLists(ctx context.Context) error {
	url := fmt.Sprintf("%s/list?client=%s&apikey=%s&appver=%s&pver=%s",
		e.cfg.BaseURL, e.cfg.Client, e.cfg.APIKey, e.cfg.AppVersion, e.cfg.Version)
	status, body, err := e.http.Request(ctx, url, "", true)
	if err != nil {
		return err
	}
	if status != 200 {
		return fmt.Errorf("list endpoint returned status %d", status)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		name = strings.TrimSpace(name)
		if name != "" {
			e.lists[name] = true
		}
	}
	return nil
}

func (e *Engine) listNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.lists))
	for name := range e.lists {
		out = append(out, name)
	}
	return out
}

// listState is the per-list sync state persisted under
// updatedKey+<list>: when it last ran, how long to wait before running
// again, and how many consecutive failures it has seen. The error
// count drives backoffDuration the same way RunLoop's own failure
// counter does, just scoped to one list instead of the whole engine.
type listState struct {
	Time   time.Time
	Wait   time.Duration
	Errors int
}

func encodeListState(s listState) string {
	return s.Time.Format(time.RFC3339) + ";" + strconv.FormatInt(int64(s.Wait), 10) + ";" + strconv.Itoa(s.Errors)
}

func decodeListState(raw string) (listState, error) {
	parts := strings.SplitN(raw, ";", 3)
	if len(parts) != 3 {
		return listState{}, fmt.Errorf("malformed persisted list state %q", raw)
	}
	t, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return listState{}, fmt.Errorf("parsing persisted list state time: %w", err)
	}
	waitNanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return listState{}, fmt.Errorf("parsing persisted list state wait: %w", err)
	}
	errs, err := strconv.Atoi(parts[2])
	if err != nil {
		return listState{}, fmt.Errorf("parsing persisted list state errors: %w", err)
	}
	return listState{Time: t, Wait: time.Duration(waitNanos), Errors: errs}, nil
}

func (e *Engine) loadListState(ctx context.Context, list string) (listState, bool, error) {
	raw, found, err := e.config.Get(ctx, updatedKey+list)
	if err != nil || !found {
		return listState{}, false, err
	}
	s, err := decodeListState(raw)
	if err != nil {
		// a state we can't parse is treated as absent rather than
		// wedging the list in a permanently-skipped state.
		e.cfg.Logger.Warn("discarding unparseable list state", "list", list, "err", err)
		return listState{}, false, nil
	}
	return s, true, nil
}

func (e *Engine) saveListState(ctx context.Context, list string, s listState) error {
	return e.config.Set(ctx, updatedKey+list, encodeListState(s))
}

// dueLists filters candidates down to the lists whose persisted wait
// has elapsed (or have no persisted state at all). remaining is the
// shortest wait among the lists held back, for callers to report back
// up when nothing turned out to be due.
func (e *Engine) dueLists(ctx context.Context, candidates []string) (due []string, remaining time.Duration, err error) {
	now := time.Now()
	haveRemaining := false
	for _, list := range candidates {
		state, found, err := e.loadListState(ctx, list)
		if err != nil {
			return nil, 0, fmt.Errorf("loading state for %s: %w", list, err)
		}
		if !found {
			due = append(due, list)
			continue
		}
		elapsed := now.Sub(state.Time)
		if elapsed >= state.Wait {
			due = append(due, list)
			continue
		}
		left := state.Wait - elapsed
		if !haveRemaining || left < remaining {
			remaining, haveRemaining = left, true
		}
	}
	if !haveRemaining {
		remaining = e.cfg.DefaultRetry
	}
	return due, remaining, nil
}

// recordListFailures persists an incremented error count and the
// matching backoff wait for every list in lists, reusing the same
// error-bucket schedule RunLoop applies to whole-engine failures.
func (e *Engine) recordListFailures(ctx context.Context, lists []string) {
	now := time.Now()
	rng := e.randSource()
	for _, list := range lists {
		state, _, err := e.loadListState(ctx, list)
		if err != nil {
			e.cfg.Logger.Warn("failed to load list state before recording failure", "list", list, "err", err)
		}
		state.Errors++
		state.Time = now
		state.Wait = backoffDuration(rng, state.Errors)
		if err := e.saveListState(ctx, list, state); err != nil {
			e.cfg.Logger.Warn("failed to persist list failure state", "list", list, "err", err)
		}
	}
}

func (e *Engine) requestUpdates(ctx context.Context) (time.Duration, error) {
	due, remaining, err := e.dueLists(ctx, e.listNames())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return remaining, nil
	}

	if e.cfg.MACEnabled {
		if err := e.ensureKeys(ctx); err != nil {
			return 0, fmt.Errorf("ensuring mac keys: %w", err)
		}
	}

	body, err := e.buildRequestBody(ctx, due)
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/downloads?client=%s&apikey=%s&appver=%s&pver=%s",
		e.cfg.BaseURL, e.cfg.Client, e.cfg.APIKey, e.cfg.AppVersion, e.cfg.Version)
	url += e.wrkeyParam()
	status, respBody, err := e.http.Request(ctx, url, body, true)
	if err != nil {
		e.recordListFailures(ctx, due)
		return 0, fmt.Errorf("requesting updates: %w", err)
	}
	if status != 200 {
		e.recordListFailures(ctx, due)
		return 0, fmt.Errorf("unexpected update response status %d", status)
	}

	resp, err := chunkcodec.ParseUpdateResponse(bytes.NewReader(respBody))
	if err != nil {
		e.recordListFailures(ctx, due)
		return 0, fmt.Errorf("parsing update response: %w", err)
	}

	if resp.RekeyRequested {
		e.mu.Lock()
		e.keys = nil
		e.mu.Unlock()
		if err := e.config.Delete(ctx, macKeysKey); err != nil {
			e.cfg.Logger.Warn("failed to clear mac keys", "err", err)
		}
		rekeyState := listState{Time: time.Now(), Wait: 10 * time.Second, Errors: 0}
		for _, list := range due {
			if err := e.saveListState(ctx, list, rekeyState); err != nil {
				e.cfg.Logger.Warn("failed to persist list state after rekey", "list", list, "err", err)
			}
		}
		return 10 * time.Second, nil
	}
	if resp.ServerError != "" {
		e.recordListFailures(ctx, due)
		return 0, fmt.Errorf("server reported error: %s", resp.ServerError)
	}

	if e.cfg.MACEnabled {
		if err := e.verifyResponseMAC(respBody, resp.MAC); err != nil {
			e.recordListFailures(ctx, due)
			return 0, fmt.Errorf("validating update response mac: %w", err)
		}
	}

	var (
		minDelay time.Duration
		haveMin  bool
	)
	for _, lu := range resp.Lists {
		listDelay := time.Duration(resp.NextPollSeconds) * time.Second
		if listDelay <= 0 {
			listDelay = e.cfg.DefaultRetry
		}
		if lu.Reset {
			if err := e.storage.Reset(ctx, lu.Name); err != nil {
				return 0, fmt.Errorf("resetting list %s: %w", lu.Name, err)
			}
			listDelay = 10 * time.Second
		} else if err := e.applyListUpdate(ctx, lu); err != nil {
			return 0, fmt.Errorf("applying update for %s: %w", lu.Name, err)
		}
		now := time.Now()
		if err := e.saveListState(ctx, lu.Name, listState{Time: now, Wait: listDelay, Errors: 0}); err != nil {
			e.cfg.Logger.Warn("failed to persist update state", "list", lu.Name, "err", err)
		}
		if !haveMin || listDelay < minDelay {
			minDelay, haveMin = listDelay, true
		}
	}
	if !haveMin {
		minDelay = time.Duration(resp.NextPollSeconds) * time.Second
		if minDelay <= 0 {
			minDelay = e.cfg.DefaultRetry
		}
	}
	return minDelay, nil
}

func (e *Engine) applyListUpdate(ctx context.Context, lu *chunkcodec.ListUpdate) error {
	for num := range lu.DeleteAddChunks {
		if err := e.storage.DeleteAddChunk(ctx, lu.Name, num); err != nil {
			return err
		}
	}
	for num := range lu.DeleteSubChunks {
		if err := e.storage.DeleteSubChunk(ctx, lu.Name, num); err != nil {
			return err
		}
	}

	for _, redirect := range lu.Redirects {
		status, body, err := e.http.Request(ctx, redirect.URL, "", true)
		if err != nil {
			return fmt.Errorf("fetching redirect %s: %w", redirect.URL, err)
		}
		if status != 200 {
			return fmt.Errorf("redirect %s returned status %d", redirect.URL, status)
		}
		if e.cfg.MACEnabled && redirect.HMAC != "" {
			e.mu.Lock()
			keys := e.keys
			e.mu.Unlock()
			if keys == nil || !mac.Verify(keys.ClientKey, body, redirect.HMAC) {
				return fmt.Errorf("redirect %s failed mac validation", redirect.URL)
			}
		}
		if err := e.applyChunkStream(ctx, lu.Name, body); err != nil {
			return fmt.Errorf("parsing chunk stream from %s: %w", redirect.URL, err)
		}
	}
	return nil
}

func (e *Engine) applyChunkStream(ctx context.Context, list string, data []byte) error {
	r := bufio.NewReader(bytes.NewReader(data))
	for {
		chunk, err := chunkcodec.ReadChunk(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		for host, prefixes := range chunk.Entries {
			hostKey := hashing.HostKey(hostHashToUint32(host))
			switch chunk.Type {
			case chunkcodec.ChunkTypeAdd:
				if err := e.storage.ApplyAddChunk(ctx, list, chunk.Num, hostKey, prefixes); err != nil {
					return err
				}
			case chunkcodec.ChunkTypeSub:
				if err := e.storage.ApplySubChunk(ctx, list, chunk.Num, hostKey, prefixes, chunk.AddNums[host]); err != nil {
					return err
				}
			}
		}
	}
}

func (e *Engine) buildRequestBody(ctx context.Context, lists []string) (string, error) {
	var b strings.Builder
	for _, name := range lists {
		add, sub, err := e.storage.ChunkRanges(ctx, name)
		if err != nil {
			return "", fmt.Errorf("reading chunk ranges for %s: %w", name, err)
		}
		addRange := chunkcodec.FormatRange(add)
		subRange := chunkcodec.FormatRange(sub)
		b.WriteString(name)
		b.WriteString(";")
		if addRange != "" {
			b.WriteString("a:")
			b.WriteString(addRange)
			if subRange != "" {
				b.WriteString(":")
			}
		}
		if subRange != "" {
			b.WriteString("s:")
			b.WriteString(subRange)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (e *Engine) fetchNewKey(ctx context.Context) error {
	url := fmt.Sprintf("%s/newkey?client=%s&apikey=%s&appver=%s&pver=%s",
		e.cfg.MacBaseURL, e.cfg.Client, e.cfg.APIKey, e.cfg.AppVersion, e.cfg.Version)
	status, body, err := e.http.Request(ctx, url, "", false)
	if err != nil {
		return err
	}
	if status != 200 {
		return fmt.Errorf("newkey endpoint returned status %d", status)
	}
	kp, err := mac.ParseNewKeyResponse(string(body))
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.keys = kp
	e.mu.Unlock()
	return e.config.Set(ctx, macKeysKey, encodeKeyPair(kp))
}

// ensureKeys makes sure a MAC key pair is loaded, recovering one from
// small-config if the process just restarted, or fetching a fresh one
// from the newkey endpoint otherwise.
func (e *Engine) ensureKeys(ctx context.Context) error {
	e.mu.Lock()
	have := e.keys != nil
	e.mu.Unlock()
	if have {
		return nil
	}
	raw, found, err := e.config.Get(ctx, macKeysKey)
	if err != nil {
		return fmt.Errorf("reading persisted mac keys: %w", err)
	}
	if found {
		if kp, decodeErr := decodeKeyPair(raw); decodeErr == nil {
			e.mu.Lock()
			e.keys = kp
			e.mu.Unlock()
			return nil
		}
	}
	return e.fetchNewKey(ctx)
}

// wrkeyParam returns the "&wrkey=..." query suffix to append to a
// MAC-validated request, or "" if MAC is disabled or no key is loaded
// yet.
func (e *Engine) wrkeyParam() string {
	if !e.cfg.MACEnabled {
		return ""
	}
	e.mu.Lock()
	keys := e.keys
	e.mu.Unlock()
	if keys == nil {
		return ""
	}
	return "&wrkey=" + keys.WrappedKey
}

// verifyResponseMAC validates the "m:" line's HMAC over the response
// body with that line (and its trailing newline) removed, per the
// server's own digest convention.
func (e *Engine) verifyResponseMAC(respBody []byte, digest string) error {
	if digest == "" {
		return fmt.Errorf("mac enabled but response carried no m: line")
	}
	e.mu.Lock()
	keys := e.keys
	e.mu.Unlock()
	if keys == nil {
		return fmt.Errorf("no mac keys loaded")
	}
	stripped := stripMACLine(respBody)
	if !mac.Verify(keys.ClientKey, stripped, digest) {
		return fmt.Errorf("mac digest mismatch")
	}
	return nil
}

// stripMACLine removes the line starting with "m:" (and its trailing
// newline) from data, the exact exclusion the server's own digest was
// computed over.
func stripMACLine(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if bytes.HasPrefix(line, []byte("m:")) {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func encodeKeyPair(kp *mac.KeyPair) string {
	return base64.StdEncoding.EncodeToString(kp.ClientKey) + ";" + kp.WrappedKey
}

func decodeKeyPair(raw string) (*mac.KeyPair, error) {
	parts := strings.SplitN(raw, ";", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed persisted mac keys")
	}
	clientKey, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decoding persisted client key: %w", err)
	}
	return &mac.KeyPair{ClientKey: clientKey, WrappedKey: parts[1]}, nil
}

// RunLoop drives Update forever until ctx is cancelled, sleeping for the
// server-provided poll interval on success and backing off on failure
// per the error-count schedule.
func (e *Engine) RunLoop(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	failures := 0
	for {
		delay, err := e.Update(ctx)
		if err != nil {
			failures++
			wait := backoffDuration(rng, failures)
			e.cfg.Logger.Warn("update failed, backing off", "failures", failures, "wait", wait, "err", err)
			delay = wait
		} else {
			failures = 0
			e.cfg.Logger.Info("update succeeded", "next_poll", delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// hostHashToUint32 decodes a wire host hash as the little-endian uint32
// it represents, matching hashing.ComputeHostKey's own byte order.
func hostHashToUint32(h chunkcodec.HostHash) uint32 {
	return binary.LittleEndian.Uint32(h[:])
}
