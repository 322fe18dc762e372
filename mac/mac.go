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
// Package mac implements the client/wrapped key lifecycle and the
// HMAC-SHA1 message authentication used to validate update and
// full-hash responses.
package mac

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// KeyPair holds the two keys issued by the newkey endpoint: ClientKey is
// used locally to validate response MACs, WrappedKey is sent back to the
// server on every request so it knows which key to sign with.
type KeyPair struct {
	ClientKey  []byte
	WrappedKey string
}

// ParseNewKeyResponse decodes a newkey response body of the form
//
//	clientkey:<len>:<base64>
//	wrappedkey:<len>:<base64>
func ParseNewKeyResponse(body string) (*KeyPair, error) {
	var kp KeyPair
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed newkey line %q", line)
		}
		declaredLen, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bad length in newkey line %q: %w", line, err)
		}
		if declaredLen != len(parts[2]) {
			return nil, fmt.Errorf("newkey line %q: declared length %d does not match value length %d",
				line, declaredLen, len(parts[2]))
		}
		switch parts[0] {
		case "clientkey":
			key, err := base64.StdEncoding.DecodeString(parts[2])
			if err != nil {
				return nil, fmt.Errorf("decoding client key: %w", err)
			}
			kp.ClientKey = key
		case "wrappedkey":
			kp.WrappedKey = parts[2]
		}
	}
	if kp.ClientKey == nil || kp.WrappedKey == "" {
		return nil, fmt.Errorf("newkey response missing clientkey or wrappedkey")
	}
	return &kp, nil
}

// Compute returns the web-safe base64 HMAC-SHA1 digest of body keyed by
// key, as sent in a response's "m:" line.
func Compute(key, body []byte) string {
	h := hmac.New(sha1.New, key)
	h.Write(body)
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// Verify reports whether digest is the correct MAC for body under key.
func Verify(key, body []byte, digest string) bool {
	want := Compute(key, body)
	return hmac.Equal([]byte(want), []byte(digest))
}
