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
package chunkcodec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// HostHash is the 4-byte host key carried inline in an add/sub chunk
// body, one per entry group.
type HostHash [4]byte

// Prefix is a single hash prefix belonging to a HostHash group. Its
// length is the chunk's declared prefix length (4 bytes normally, 32
// for a full-length entry).
type Prefix []byte

// Chunk is one decoded add or sub chunk.
type Chunk struct {
	Num       ChunkNum
	Type      ChunkType
	PrefixLen int
	ByteLen   int
	// Entries maps each host hash present in the chunk to the prefixes
	// listed under it.
	Entries map[HostHash][]Prefix
	// AddNums holds, for sub chunks only, the add-chunk number each
	// corresponding prefix in Entries was originally added under.
	AddNums map[HostHash][]uint32
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk %d (%s) prefixLen=%d byteLen=%d entries=%d",
		c.Num, c.Type, c.PrefixLen, c.ByteLen, len(c.Entries))
}

func parseHeader(line string) (*Chunk, error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed chunk header %q", line)
	}
	num, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad chunk number in header %q: %w", line, err)
	}
	prefixLen, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("bad prefix length in header %q: %w", line, err)
	}
	byteLen, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("bad byte length in header %q: %w", line, err)
	}
	return &Chunk{
		Num:       ChunkNum(num),
		Type:      ChunkType(parts[0]),
		PrefixLen: prefixLen,
		ByteLen:   byteLen,
	}, nil
}

func readExact(r *bufio.Reader, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := make([]byte, n-len(out))
		read, err := r.Read(chunk)
		out = append(out, chunk[:read]...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ReadChunk reads one add or sub chunk from r, leaving the reader
// positioned at the start of the next one. Returns io.EOF once the
// stream is exhausted.
func ReadChunk(r *bufio.Reader) (*Chunk, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	chunk, err := parseHeader(header[:len(header)-1])
	if err != nil {
		return nil, err
	}
	chunk.Entries = make(map[HostHash][]Prefix)
	chunk.AddNums = make(map[HostHash][]uint32)

	body, err := readExact(r, chunk.ByteLen)
	if err != nil {
		return nil, fmt.Errorf("unexpected end of chunk body: %w", err)
	}

	if chunk.ByteLen == 0 {
		// an empty block still produced a chunk number: preserve the
		// invariant that every chunk yields at least one stored entry.
		var host HostHash
		chunk.Entries[host] = append(chunk.Entries[host], Prefix{})
		if chunk.Type == ChunkTypeSub {
			chunk.AddNums[host] = append(chunk.AddNums[host], 0)
		}
		return chunk, nil
	}

	for x := 0; x < chunk.ByteLen; {
		if x+4 > len(body) {
			return nil, fmt.Errorf("unexpected end of chunk: truncated host hash")
		}
		var host HostHash
		copy(host[:], body[x:x+4])
		x += 4

		if x >= len(body) {
			return nil, fmt.Errorf("unexpected end of chunk: missing prefix count")
		}
		count := int(body[x])
		x++

		if count == 0 {
			// a count of zero means no prefix follows: the whole host is
			// covered, recorded as a single entry with an empty prefix.
			if chunk.Type == ChunkTypeSub {
				if x+4 > len(body) {
					return nil, fmt.Errorf("unexpected end of chunk: truncated add-chunk number")
				}
				addNum := binary.BigEndian.Uint32(body[x : x+4])
				x += 4
				chunk.AddNums[host] = append(chunk.AddNums[host], addNum)
			}
			chunk.Entries[host] = append(chunk.Entries[host], Prefix{})
			continue
		}

		for y := 0; y < count; y++ {
			if chunk.Type == ChunkTypeSub {
				if x+4 > len(body) {
					return nil, fmt.Errorf("unexpected end of chunk: truncated add-chunk number")
				}
				addNum := binary.BigEndian.Uint32(body[x : x+4])
				x += 4
				chunk.AddNums[host] = append(chunk.AddNums[host], addNum)
			}
			if x+chunk.PrefixLen > len(body) {
				return nil, fmt.Errorf("unexpected end of chunk: truncated prefix")
			}
			prefix := make(Prefix, chunk.PrefixLen)
			copy(prefix, body[x:x+chunk.PrefixLen])
			x += chunk.PrefixLen
			chunk.Entries[host] = append(chunk.Entries[host], prefix)
		}
	}
	return chunk, nil
}
