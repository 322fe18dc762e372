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
// Package hashing computes the SHA-256 full hashes, 4-byte prefixes, and
// host keys used to index and look up threat list entries.
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
)

// FullHash is the 32-byte SHA-256 digest of a canonicalized lookup
// candidate (host+path, no scheme).
type FullHash [32]byte

// Prefix is the first 4 bytes of a FullHash, the unit threat list chunks
// are actually keyed and transmitted by.
type Prefix [4]byte

// HostKey identifies a host independent of which candidate path matched,
// used as the outer index level in storage.
type HostKey uint32

// Hash computes the full SHA-256 hash of a canonicalized candidate
// string such as "b.c/1/".
func Hash(candidate string) FullHash {
	return sha256.Sum256([]byte(candidate))
}

// PrefixOf truncates a full hash down to its 4-byte prefix.
func PrefixOf(h FullHash) Prefix {
	var p Prefix
	copy(p[:], h[:4])
	return p
}

// ComputeHostKey hashes host+"/" and reads the first 4 bytes of the
// digest as a little-endian uint32.
func ComputeHostKey(host string) HostKey {
	sum := sha256.Sum256([]byte(host + "/"))
	return HostKey(binary.LittleEndian.Uint32(sum[:4]))
}

func (p Prefix) Bytes() []byte {
	b := make([]byte, 4)
	copy(b, p[:])
	return b
}

func (h FullHash) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, h[:])
	return b
}

// HasPrefix reports whether h begins with the given prefix bytes (used
// when comparing a partial-length sub-chunk prefix against a full hash).
func (h FullHash) HasPrefix(prefix []byte) bool {
	if len(prefix) > len(h) {
		return false
	}
	for i, b := range prefix {
		if h[i] != b {
			return false
		}
	}
	return true
}
