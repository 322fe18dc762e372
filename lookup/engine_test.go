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
package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gosafebrowsing/sbv2/canon"
	"github.com/gosafebrowsing/sbv2/chunkcodec"
	"github.com/gosafebrowsing/sbv2/hashing"
	"github.com/gosafebrowsing/sbv2/httpclient"
	"github.com/gosafebrowsing/sbv2/smallconfig"
	"github.com/gosafebrowsing/sbv2/storage"
)

func newTestEngine(t *testing.T, baseURL string) (*Engine, storage.Storage) {
	t.Helper()
	mem := storage.NewMemory()
	cfgStore, err := smallconfig.NewFile(filepath.Join(t.TempDir(), "state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	client := httpclient.New(httpclient.Config{})
	e := New(Config{
		APIKey:  "testkey",
		Lists:   []string{"goog-malware-shavar"},
		BaseURL: baseURL,
	}, client, mem, cfgStore)
	return e, mem
}

func seedPrefix(t *testing.T, ctx context.Context, st storage.Storage, rawURL string) hashing.HostKey {
	t.Helper()
	candidates := canon.Candidates(rawURL)
	if len(candidates) == 0 {
		t.Fatal("no candidates generated")
	}
	c := candidates[0]
	idx := -1
	for i, ch := range c {
		if ch == '/' {
			idx = i
			break
		}
	}
	host := c[:idx]
	full := hashing.Hash(c)
	prefix := hashing.PrefixOf(full)
	hostKey := hashing.ComputeHostKey(host)
	if err := st.ApplyAddChunk(ctx, "goog-malware-shavar", 1, hostKey, []chunkcodec.Prefix{chunkcodec.Prefix(prefix.Bytes())}); err != nil {
		t.Fatal(err)
	}
	return hostKey
}

func TestProbeFindsSeededPrefix(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "")
	seedPrefix(t, ctx, st, "http://malware.example.com/evil/path")

	found, err := e.Probe(ctx, "http://malware.example.com/evil/path")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("expected Probe to find the seeded prefix")
	}
}

func TestProbeMissesCleanURL(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "")
	seedPrefix(t, ctx, st, "http://malware.example.com/evil/path")

	found, err := e.Probe(ctx, "http://totally-safe.example.org/")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected Probe to miss an unrelated URL")
	}
}

func TestConfirmUsesGethashToConfirmMatch(t *testing.T) {
	ctx := context.Background()
	rawURL := "http://malware.example.com/evil/path"

	mux := http.NewServeMux()
	mux.HandleFunc("/safebrowsing/gethash", func(w http.ResponseWriter, r *http.Request) {
		candidates := canon.Candidates(rawURL)
		full := hashing.Hash(candidates[0])
		w.Write(append([]byte("goog-malware-shavar:1:32\n"), full.Bytes()...))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e, st := newTestEngine(t, srv.URL+"/safebrowsing")
	seedPrefix(t, ctx, st, rawURL)

	matches, err := e.Confirm(ctx, rawURL)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Fatal("expected Confirm to report a match")
	}
	if matches[0].List != "goog-malware-shavar" {
		t.Errorf("unexpected list in match: %q", matches[0].List)
	}
}

func TestConfirmUsesCacheWithoutNetworkCall(t *testing.T) {
	ctx := context.Background()
	rawURL := "http://malware.example.com/evil/path"

	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/safebrowsing/gethash", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e, st := newTestEngine(t, srv.URL+"/safebrowsing")
	host := seedPrefix(t, ctx, st, rawURL)

	candidates := canon.Candidates(rawURL)
	full := hashing.Hash(candidates[0])
	if err := st.StoreFullHash(ctx, "goog-malware-shavar", host, 1, full, time.Now()); err != nil {
		t.Fatal(err)
	}

	matches, err := e.Confirm(ctx, rawURL)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].List != "goog-malware-shavar" {
		t.Fatalf("expected a cached match, got %v", matches)
	}
	if calls != 0 {
		t.Errorf("expected no gethash round trip for a fresh cache hit, got %d calls", calls)
	}
}

func TestConfirmIgnoresStaleCacheEntry(t *testing.T) {
	ctx := context.Background()
	rawURL := "http://malware.example.com/evil/path"

	mux := http.NewServeMux()
	mux.HandleFunc("/safebrowsing/gethash", func(w http.ResponseWriter, r *http.Request) {
		candidates := canon.Candidates(rawURL)
		full := hashing.Hash(candidates[0])
		w.Write(append([]byte("goog-malware-shavar:1:32\n"), full.Bytes()...))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e, st := newTestEngine(t, srv.URL+"/safebrowsing")
	host := seedPrefix(t, ctx, st, rawURL)

	candidates := canon.Candidates(rawURL)
	full := hashing.Hash(candidates[0])
	stale := time.Now().Add(-time.Hour)
	if err := st.StoreFullHash(ctx, "goog-malware-shavar", host, 1, full, stale); err != nil {
		t.Fatal(err)
	}

	matches, err := e.Confirm(ctx, rawURL)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Fatal("expected a re-confirmed match via the server")
	}
}

func TestFullHashBackoffSchedule(t *testing.T) {
	cases := []struct {
		count int
		want  bool
	}{
		{1, true},
		{2, true},
	}
	for _, c := range cases {
		if got := fullHashBackoff(c.count) == 0; got != c.want {
			t.Errorf("failureCount=%d: zero-wait=%v, want %v", c.count, got, c.want)
		}
	}
	if fullHashBackoff(3) != 30*time.Minute {
		t.Error("expected 30 minute backoff at 3 failures")
	}
	if fullHashBackoff(4) != 60*time.Minute {
		t.Error("expected 60 minute backoff at 4 failures")
	}
	if fullHashBackoff(10) != 120*time.Minute {
		t.Error("expected 120 minute cap at high failure counts")
	}
}
