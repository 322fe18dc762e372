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
package storage

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/willf/bloom"

	"github.com/gosafebrowsing/sbv2/chunkcodec"
	"github.com/gosafebrowsing/sbv2/hashing"
)

// Sized for roughly 500,000 entries at a false-positive probability of
// about 6.5E-9, giving the exact-match map a cheap way to skip the vast
// majority of misses without ever touching it.
const (
	bloomBits   = 50000000
	bloomHashes = 7
)

type entry struct {
	prefix   string
	addChunk chunkcodec.ChunkNum
	addNum   uint32
}

type listData struct {
	addChunks map[chunkcodec.ChunkNum]bool
	subChunks map[chunkcodec.ChunkNum]bool

	// entries maps host key -> prefix bytes (as a string) -> the add
	// chunk that introduced it.
	entries map[hashing.HostKey]map[string]entry
	// fullHashes caches confirmed 32-byte hashes per host, keyed by the
	// add chunk whose prefix produced them so a DeleteAddChunk can evict
	// the hashes it invalidates, and the time they were fetched so
	// FullHashes can evict stale rows per its min-timestamp contract.
	fullHashes map[hashing.HostKey]map[hashing.FullHash]fullHashRecord

	insertFilter *bloom.BloomFilter
	subFilter    *bloom.BloomFilter
}

// fullHashRecord is one cached full hash plus the bookkeeping needed to
// evict it: the add-chunk that produced it and when it was fetched.
type fullHashRecord struct {
	chunkNum  chunkcodec.ChunkNum
	fetchedAt time.Time
}

func newListData() *listData {
	return &listData{
		addChunks:    make(map[chunkcodec.ChunkNum]bool),
		subChunks:    make(map[chunkcodec.ChunkNum]bool),
		entries:      make(map[hashing.HostKey]map[string]entry),
		fullHashes:   make(map[hashing.HostKey]map[hashing.FullHash]fullHashRecord),
		insertFilter: bloom.New(bloomBits, bloomHashes),
		subFilter:    bloom.New(bloomBits, bloomHashes),
	}
}

// Memory is an in-memory Storage backend. It is a reference
// implementation suitable for tests and small deployments; production
// use is expected to provide a disk- or database-backed Storage.
type Memory struct {
	mu    sync.RWMutex
	lists map[string]*listData
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{lists: make(map[string]*listData)}
}

func (m *Memory) list(name string) *listData {
	ld, ok := m.lists[name]
	if !ok {
		ld = newListData()
		m.lists[name] = ld
	}
	return ld
}

func filterKey(host hashing.HostKey, prefix chunkcodec.Prefix) []byte {
	key := make([]byte, 4+len(prefix))
	binary.LittleEndian.PutUint32(key, uint32(host))
	copy(key[4:], prefix)
	return key
}

func (m *Memory) ApplyAddChunk(ctx context.Context, list string, num chunkcodec.ChunkNum, host hashing.HostKey, prefixes []chunkcodec.Prefix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ld := m.list(list)
	ld.addChunks[num] = true
	hostEntries, ok := ld.entries[host]
	if !ok {
		hostEntries = make(map[string]entry)
		ld.entries[host] = hostEntries
	}
	for _, p := range prefixes {
		hostEntries[string(p)] = entry{prefix: string(p), addChunk: num}
		ld.insertFilter.Add(filterKey(host, p))
	}
	return nil
}

func (m *Memory) ApplySubChunk(ctx context.Context, list string, num chunkcodec.ChunkNum, host hashing.HostKey, prefixes []chunkcodec.Prefix, addNums []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ld := m.list(list)
	ld.subChunks[num] = true
	hostEntries := ld.entries[host]
	for i, p := range prefixes {
		var addNum uint32
		if i < len(addNums) {
			addNum = addNums[i]
		}
		ld.subFilter.Add(filterKey(host, p))
		if hostEntries == nil {
			continue
		}
		if addNum == 0 {
			delete(hostEntries, string(p))
			continue
		}
		if existing, ok := hostEntries[string(p)]; ok && uint32(existing.addChunk) == addNum {
			delete(hostEntries, string(p))
		}
	}
	return nil
}

func (m *Memory) DeleteAddChunk(ctx context.Context, list string, num chunkcodec.ChunkNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ld := m.list(list)
	delete(ld.addChunks, num)
	for host, hostEntries := range ld.entries {
		for p, e := range hostEntries {
			if e.addChunk == num {
				delete(hostEntries, p)
			}
		}
		if len(hostEntries) == 0 {
			delete(ld.entries, host)
		}
	}
	for host, hostHashes := range ld.fullHashes {
		for full, rec := range hostHashes {
			if rec.chunkNum == num {
				delete(hostHashes, full)
			}
		}
		if len(hostHashes) == 0 {
			delete(ld.fullHashes, host)
		}
	}
	return nil
}

func (m *Memory) DeleteSubChunk(ctx context.Context, list string, num chunkcodec.ChunkNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ld := m.list(list)
	delete(ld.subChunks, num)
	return nil
}

func (m *Memory) Reset(ctx context.Context, list string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[list] = newListData()
	return nil
}

func (m *Memory) ChunkRanges(ctx context.Context, list string) (add, sub map[chunkcodec.ChunkNum]bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ld, ok := m.lists[list]
	if !ok {
		return map[chunkcodec.ChunkNum]bool{}, map[chunkcodec.ChunkNum]bool{}, nil
	}
	return copyChunkSet(ld.addChunks), copyChunkSet(ld.subChunks), nil
}

func copyChunkSet(src map[chunkcodec.ChunkNum]bool) map[chunkcodec.ChunkNum]bool {
	out := make(map[chunkcodec.ChunkNum]bool, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (m *Memory) LookupPrefix(ctx context.Context, list string, host hashing.HostKey, prefix chunkcodec.Prefix) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ld, ok := m.lists[list]
	if !ok {
		return false, nil
	}
	hostEntries, ok := ld.entries[host]
	if !ok {
		return false, nil
	}
	// A zero-length stored prefix means "any path under this host"; it
	// must match regardless of the computed candidate prefix.
	if ld.insertFilter.Test(filterKey(host, nil)) {
		if _, found := hostEntries[""]; found {
			return true, nil
		}
	}
	if !ld.insertFilter.Test(filterKey(host, prefix)) {
		return false, nil
	}
	_, found := hostEntries[string(prefix)]
	return found, nil
}

func (m *Memory) StoreFullHash(ctx context.Context, list string, host hashing.HostKey, chunkNum chunkcodec.ChunkNum, full hashing.FullHash, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ld := m.list(list)
	hostHashes, ok := ld.fullHashes[host]
	if !ok {
		hostHashes = make(map[hashing.FullHash]fullHashRecord)
		ld.fullHashes[host] = hostHashes
	}
	hostHashes[full] = fullHashRecord{chunkNum: chunkNum, fetchedAt: fetchedAt}
	return nil
}

// FullHashes returns every cached full hash under host for list fetched
// at or after minTimestamp. Entries fetched earlier than minTimestamp are
// evicted as they're encountered, per the storage contract's "also
// evicts rows older than min_timestamp" clause.
func (m *Memory) FullHashes(ctx context.Context, list string, host hashing.HostKey, minTimestamp time.Time) ([]FullHashEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ld, ok := m.lists[list]
	if !ok {
		return nil, nil
	}
	hostHashes, ok := ld.fullHashes[host]
	if !ok {
		return nil, nil
	}
	out := make([]FullHashEntry, 0, len(hostHashes))
	for full, rec := range hostHashes {
		if rec.fetchedAt.Before(minTimestamp) {
			delete(hostHashes, full)
			continue
		}
		out = append(out, FullHashEntry{ChunkNum: rec.chunkNum, Hash: full, FetchedAt: rec.fetchedAt})
	}
	return out, nil
}

var _ Storage = (*Memory)(nil)
