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
// Package chunkcodec decodes and encodes the wire formats used by the
// update protocol: compact chunk-number ranges, binary add/sub chunk
// bodies, the text-line update response, and the binary full-hash
// response.
package chunkcodec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ChunkNum identifies a single chunk within a list.
type ChunkNum uint32

// ChunkType distinguishes add chunks (entries to insert) from sub
// chunks (entries to remove).
type ChunkType string

const (
	ChunkTypeAdd ChunkType = "a"
	ChunkTypeSub ChunkType = "s"
)

// ParseRange decodes a compact range expression like "1-3,5,7-11" into
// the set of chunk numbers it names.
func ParseRange(s string) (map[ChunkNum]bool, error) {
	out := make(map[ChunkNum]bool)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		bounds := strings.SplitN(part, "-", 2)
		lo, err := strconv.ParseUint(bounds[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad chunk range %q: %w", part, err)
		}
		hi := lo
		if len(bounds) == 2 {
			hi, err = strconv.ParseUint(bounds[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad chunk range %q: %w", part, err)
			}
		}
		for n := lo; n <= hi; n++ {
			out[ChunkNum(n)] = true
		}
	}
	return out, nil
}

// FormatRange is the inverse of ParseRange: it collapses a set of chunk
// numbers into the shortest range expression that names them.
func FormatRange(nums map[ChunkNum]bool) string {
	if len(nums) == 0 {
		return ""
	}
	sorted := make([]int, 0, len(nums))
	for n := range nums {
		sorted = append(sorted, int(n))
	}
	sort.Ints(sorted)

	var parts []string
	i := 0
	for i < len(sorted) {
		start := sorted[i]
		end := start
		for i+1 < len(sorted) && sorted[i+1] == end+1 {
			end = sorted[i+1]
			i++
		}
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
		i++
	}
	return strings.Join(parts, ",")
}
