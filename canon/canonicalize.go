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
// Package canon implements the URL canonicalization rules used to turn an
// arbitrary URL into the normalized form that gets hashed and looked up
// against a threat list.
package canon

import (
	"strconv"
	"strings"
)

// Canonicalize reduces an arbitrary URL to its canonical form: trimmed,
// schemed, fragment-stripped, percent-normalized, and with its path
// dot-segments resolved. The query string (if any) is carried through
// unmodified after the first unescaped '?'.
func Canonicalize(rawURL string) string {
	s := strings.TrimSpace(rawURL)

	qIdx := strings.IndexByte(s, '?')
	if qIdx >= 0 {
		s = stripControlChars(s[:qIdx]) + s[qIdx:]
	} else {
		s = stripControlChars(s)
	}

	if fIdx := strings.IndexByte(s, '#'); fIdx >= 0 {
		s = s[:fIdx]
	}

	scheme := "http"
	if i := strings.Index(s, "://"); i >= 0 && isValidScheme(s[:i]) {
		scheme = strings.ToLower(s[:i])
		s = s[i+3:]
	}

	host, rest := splitHost(s)
	host = canonicalHost(host)

	path, query := splitPathQuery(rest)
	path = canonicalPath(path)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if query != "" {
		b.WriteString(query)
	}
	return b.String()
}

func isValidScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		case (r == '+' || r == '.' || r == '-') && i > 0:
		default:
			return false
		}
	}
	return true
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\t', '\r', '\n':
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// splitHost pulls the authority off the front of s (scheme already
// removed) and returns it along with whatever followed it.
func splitHost(s string) (host, rest string) {
	end := len(s)
	for i, r := range s {
		if r == '/' || r == '?' {
			end = i
			break
		}
	}
	return s[:end], s[end:]
}

func splitPathQuery(s string) (path, query string) {
	qIdx := strings.IndexByte(s, '?')
	if qIdx < 0 {
		return s, ""
	}
	return s[:qIdx], s[qIdx:]
}

func canonicalHost(host string) string {
	hb := []byte(host)
	for i, c := range hb {
		if c >= 'A' && c <= 'Z' {
			hb[i] = c + ('a' - 'A')
		}
	}
	host = string(hb)

	// port, if any, is carried through untouched.
	port := ""
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		port = host[i:]
		host = host[:i]
	}

	host = decodeRepeatedly(host)
	host = strings.Trim(host, ".")
	host = collapseDots(host)

	if ip, ok := decimalIPv4(host); ok {
		host = ip
	}

	host = escapeUnsafe(host)
	return host + port
}

func collapseDots(s string) string {
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	return s
}

// decimalIPv4 recognizes a host that is a single base-10 integer fitting
// in 32 bits and rewrites it as a dotted quad.
func decimalIPv4(host string) (string, bool) {
	if host == "" {
		return "", false
	}
	for _, r := range host {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	n, err := strconv.ParseUint(host, 10, 32)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint((n>>24)&0xff, 10) + "." +
		strconv.FormatUint((n>>16)&0xff, 10) + "." +
		strconv.FormatUint((n>>8)&0xff, 10) + "." +
		strconv.FormatUint(n&0xff, 10), true
}

func isIPv4Literal(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func canonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	path = decodeRepeatedly(path)
	path = collapseSlashes(path)
	path = resolveDotSegments(path)
	path = escapeUnsafe(path)
	if path == "" {
		path = "/"
	}
	return path
}

func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for _, r := range s {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func resolveDotSegments(path string) string {
	trailingSlash := strings.HasSuffix(path, "/")
	segments := strings.Split(path, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			// skip
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	out := "/" + strings.Join(stack, "/")
	if trailingSlash && !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out
}

// decodeRepeatedly percent-decodes s until a full pass makes no further
// change, mirroring a threat feed's insistence on seeing raw bytes rather
// than however many layers of encoding an attacker nested.
func decodeRepeatedly(s string) string {
	for i := 0; i < len(s)+16; i++ {
		next, changed := decodeOnce(s)
		if !changed {
			return s
		}
		s = next
	}
	return s
}

func decodeOnce(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	changed := false
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(hexVal(s[i+1])<<4 | hexVal(s[i+2]))
			i += 2
			changed = true
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), changed
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

const hexDigits = "0123456789ABCDEF"

// escapeUnsafe re-escapes every byte that isn't printable, plain ASCII
// punctuation. Space, '#' and '%' are always escaped since they carry
// syntactic meaning (or, for '%', would make the result ambiguous to
// decode again).
func escapeUnsafe(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafeByte(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xf])
	}
	return b.String()
}

func isSafeByte(c byte) bool {
	if c <= 0x20 || c >= 0x7f {
		return false
	}
	switch c {
	case '#', '%':
		return false
	}
	return true
}
