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
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Redirect is one "u:" directive: the chunk-data URL to fetch next, and
// the optional per-payload HMAC that follows it after a comma.
type Redirect struct {
	URL  string
	HMAC string
}

// ListUpdate collects the directives an update response carried for a
// single list: where to fetch the redirected chunk data from, and which
// previously-applied chunks the server wants deleted.
type ListUpdate struct {
	Name            string
	Redirects       []Redirect
	DeleteAddChunks map[ChunkNum]bool
	DeleteSubChunks map[ChunkNum]bool
	// Reset is set when the response carried "r:pleasereset" while this
	// list was the active "i:" context: all local data for the list must
	// be wiped and no redirects for it processed.
	Reset bool
}

// UpdateResponse is the parsed form of a downloads response body.
type UpdateResponse struct {
	NextPollSeconds int
	Lists           []*ListUpdate
	RekeyRequested  bool
	ServerError     string
	// MAC is the "m:<digest>" line's value, the HMAC over the whole
	// response with that line removed. Empty if the server didn't send
	// one.
	MAC string
}

// ParseUpdateResponse decodes the text-line update response framing:
// "n:", "i:", "u:", "ad:", "sd:", "e:pleaserekey" and "r:pleasereset"
// directives.
func ParseUpdateResponse(r io.Reader) (*UpdateResponse, error) {
	resp := &UpdateResponse{}
	var current *ListUpdate

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		bits := strings.SplitN(line, ":", 2)
		if len(bits) != 2 {
			return nil, fmt.Errorf("malformed update response line %q", line)
		}
		switch bits[0] {
		case "n":
			delay, err := strconv.Atoi(bits[1])
			if err != nil {
				return nil, fmt.Errorf("bad poll interval %q: %w", bits[1], err)
			}
			resp.NextPollSeconds = delay
		case "i":
			current = &ListUpdate{
				Name:            bits[1],
				DeleteAddChunks: make(map[ChunkNum]bool),
				DeleteSubChunks: make(map[ChunkNum]bool),
			}
			resp.Lists = append(resp.Lists, current)
		case "u":
			if current == nil {
				return nil, fmt.Errorf("redirect url %q before any list header", bits[1])
			}
			urlPart, macPart := bits[1], ""
			if idx := strings.IndexByte(bits[1], ','); idx >= 0 {
				urlPart, macPart = bits[1][:idx], bits[1][idx+1:]
			}
			current.Redirects = append(current.Redirects, Redirect{URL: "https://" + urlPart, HMAC: macPart})
		case "ad":
			if current == nil {
				return nil, fmt.Errorf("add-chunk delete before any list header")
			}
			deletes, err := ParseRange(bits[1])
			if err != nil {
				return nil, fmt.Errorf("parsing add-chunk deletes: %w", err)
			}
			current.DeleteAddChunks = deletes
		case "sd":
			if current == nil {
				return nil, fmt.Errorf("sub-chunk delete before any list header")
			}
			deletes, err := ParseRange(bits[1])
			if err != nil {
				return nil, fmt.Errorf("parsing sub-chunk deletes: %w", err)
			}
			current.DeleteSubChunks = deletes
		case "r":
			if current == nil {
				return nil, fmt.Errorf("reset directive before any list header")
			}
			current.Reset = true
		case "e":
			resp.ServerError = bits[1]
			if bits[1] == "pleaserekey" {
				resp.RekeyRequested = true
			}
		case "m":
			resp.MAC = bits[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading update response: %w", err)
	}
	return resp, nil
}
