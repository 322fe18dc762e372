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

package sbv2

import (
	"context"
	"testing"

	"github.com/gosafebrowsing/sbv2/canon"
	"github.com/gosafebrowsing/sbv2/chunkcodec"
	"github.com/gosafebrowsing/sbv2/hashing"
	"github.com/gosafebrowsing/sbv2/storage"
)

func TestNewRequiresDataDirOrConfigStore(t *testing.T) {
	_, err := New(Config{APIKey: "key", Lists: []string{"goog-malware-shavar"}})
	if err == nil {
		t.Error("expected error when neither DataDir nor ConfigStore nor Offline is set")
	}
}

func TestOfflineClientServesFromStorage(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	rawURL := "http://malware.example.com/evil/path"
	candidates := canon.Candidates(rawURL)
	idx := 0
	for i, ch := range candidates[0] {
		if ch == '/' {
			idx = i
			break
		}
	}
	host := candidates[0][:idx]
	full := hashing.Hash(candidates[0])
	prefix := hashing.PrefixOf(full)
	hostKey := hashing.ComputeHostKey(host)
	if err := mem.ApplyAddChunk(ctx, "goog-malware-shavar", 1, hostKey, []chunkcodec.Prefix{chunkcodec.Prefix(prefix.Bytes())}); err != nil {
		t.Fatal(err)
	}

	c, err := New(Config{
		APIKey:  "key",
		Lists:   []string{"goog-malware-shavar"},
		Offline: true,
		Storage: mem,
	})
	if err != nil {
		t.Fatal(err)
	}

	listed, err := c.MightBeListed(ctx, rawURL)
	if err != nil {
		t.Fatal(err)
	}
	if !listed {
		t.Error("expected MightBeListed to find the seeded prefix")
	}

	if _, err := c.Update(ctx); err != nil {
		t.Errorf("offline Update should be a no-op, got error: %v", err)
	}
}

func TestNewThreadsServerOverridesIntoEngines(t *testing.T) {
	c, err := New(Config{
		APIKey:    "key",
		Lists:     []string{"goog-malware-shavar"},
		Offline:   true,
		Storage:   storage.NewMemory(),
		Server:    "https://update.example.com/safebrowsing",
		MacServer: "https://mac.example.com/safebrowsing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.update.Config().BaseURL != "https://update.example.com/safebrowsing" {
		t.Errorf("expected Server to reach the update engine, got %q", c.update.Config().BaseURL)
	}
	if c.update.Config().MacBaseURL != "https://mac.example.com/safebrowsing" {
		t.Errorf("expected MacServer to reach the update engine, got %q", c.update.Config().MacBaseURL)
	}
	if c.lookup.Config().BaseURL != "https://update.example.com/safebrowsing" {
		t.Errorf("expected Server to reach the lookup engine, got %q", c.lookup.Config().BaseURL)
	}
}
