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
// Package storage defines the persistence contract the update and
// lookup engines use to record chunk data and full-hash responses, plus
// an in-memory reference implementation.
package storage

import (
	"context"
	"time"

	"github.com/gosafebrowsing/sbv2/chunkcodec"
	"github.com/gosafebrowsing/sbv2/hashing"
)

// FullHashEntry is one cached full hash returned by FullHashes, carrying
// the chunk that produced it and when it was fetched from the server so
// callers can judge staleness per spec's (list, chunknum, hash, timestamp)
// full-hash data model.
type FullHashEntry struct {
	ChunkNum  chunkcodec.ChunkNum
	Hash      hashing.FullHash
	FetchedAt time.Time
}

// Storage is the collaborator the update engine writes chunk data into
// and the lookup engine reads prefixes and full hashes back out of. A
// concrete backend (disk, database) is expected to implement this; the
// package also ships an in-memory Memory implementation for tests and
// small deployments.
type Storage interface {
	// ApplyAddChunk records the prefixes of an add chunk under host.
	ApplyAddChunk(ctx context.Context, list string, num chunkcodec.ChunkNum, host hashing.HostKey, prefixes []chunkcodec.Prefix) error
	// ApplySubChunk records a sub chunk's prefixes, each paired with the
	// add-chunk number it cancels. A whole-host entry has an empty prefix;
	// an add-chunk number of 0 is the placeholder an empty sub chunk
	// carries.
	ApplySubChunk(ctx context.Context, list string, num chunkcodec.ChunkNum, host hashing.HostKey, prefixes []chunkcodec.Prefix, addNums []uint32) error
	// DeleteAddChunk discards a previously-applied add chunk entirely,
	// along with any cached full hashes that chunk produced.
	DeleteAddChunk(ctx context.Context, list string, num chunkcodec.ChunkNum) error
	// DeleteSubChunk discards a previously-applied sub chunk entirely.
	DeleteSubChunk(ctx context.Context, list string, num chunkcodec.ChunkNum) error
	// Reset clears every chunk held for list, used after a "please
	// reset" directive.
	Reset(ctx context.Context, list string) error

	// ChunkRanges reports the add/sub chunk numbers currently applied
	// for list, used to build the next update request body.
	ChunkRanges(ctx context.Context, list string) (add, sub map[chunkcodec.ChunkNum]bool, err error)

	// LookupPrefix reports whether prefix, or a zero-length whole-host
	// entry, is present under host for list. Entries cancelled by a sub
	// chunk are not reported.
	LookupPrefix(ctx context.Context, list string, host hashing.HostKey, prefix chunkcodec.Prefix) (found bool, err error)

	// StoreFullHash caches a confirmed full hash returned by a gethash
	// request, so later lookups for the same prefix don't need a fresh
	// round trip. chunkNum ties the cached hash to the add-chunk that
	// produced its prefix, so it can be evicted when that chunk is;
	// fetchedAt records when the server returned it, for cache_ttl
	// staleness checks.
	StoreFullHash(ctx context.Context, list string, host hashing.HostKey, chunkNum chunkcodec.ChunkNum, full hashing.FullHash, fetchedAt time.Time) error
	// FullHashes returns every cached full hash under host for list whose
	// FetchedAt is at or after minTimestamp, evicting any older entries
	// it encounters along the way.
	FullHashes(ctx context.Context, list string, host hashing.HostKey, minTimestamp time.Time) ([]FullHashEntry, error)
}
