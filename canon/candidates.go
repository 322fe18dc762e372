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
package canon

import "strings"

// Candidates expands a canonicalized URL into the set of host/path
// combinations a local prefix lookup must probe, per the lookup rules:
// up to five shortened host forms crossed with up to six path forms.
// Results are "host/path[?query]" strings with no scheme.
func Candidates(rawURL string) []string {
	c := Canonicalize(rawURL)
	host, pathAndQuery := splitHostRest(c)

	qIdx := strings.IndexByte(pathAndQuery, '?')
	pathOnly := pathAndQuery
	if qIdx >= 0 {
		pathOnly = pathAndQuery[:qIdx]
	}

	domains := domainForms(host)
	paths := pathForms(pathAndQuery, pathOnly)

	out := make([]string, 0, len(domains)*len(paths))
	for _, d := range domains {
		for _, p := range paths {
			out = append(out, d+p)
		}
	}
	return out
}

// HostSuffixes returns the up-to-three canonical domain suffixes of host
// used to compute a host key: the full host, its last-three-label
// suffix, and its last-two-label suffix. An IPv4 literal yields itself
// alone.
func HostSuffixes(host string) []string {
	if isIPv4Literal(host) {
		return []string{host}
	}
	labels := strings.Split(host, ".")
	n := len(labels)
	out := []string{host}
	seen := map[string]bool{host: true}
	if n > 2 {
		last3 := strings.Join(labels[n-3:], ".")
		if !seen[last3] {
			out = append(out, last3)
			seen[last3] = true
		}
	}
	if n > 1 {
		last2 := strings.Join(labels[n-2:], ".")
		if !seen[last2] {
			out = append(out, last2)
		}
	}
	return out
}

func splitHostRest(canonical string) (host, rest string) {
	s := canonical
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	end := len(s)
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			end = i
			break
		}
	}
	return s[:end], s[end:]
}

// domainForms enumerates the host strings a lookup tries: the exact
// host, plus up to four more formed from its last five labels by
// successively dropping the leading one, stopping at two labels.
func domainForms(host string) []string {
	if isIPv4Literal(host) {
		return []string{host}
	}
	labels := strings.Split(host, ".")
	n := len(labels)
	k := n
	if k > 5 {
		k = 5
	}
	lastK := labels[n-k:]

	out := []string{host}
	seen := map[string]bool{host: true}
	for i := 0; i <= k-2; i++ {
		if k-i < 2 {
			break
		}
		f := strings.Join(lastK[i:], ".")
		if !seen[f] {
			out = append(out, f)
			seen[f] = true
		}
		if len(out) >= 5 {
			break
		}
	}
	return out
}

// pathForms enumerates the path strings a lookup tries: the original
// path+query, the path alone, and successive "/"-terminated prefixes of
// the path, up to six forms total.
func pathForms(pathAndQuery, pathOnly string) []string {
	out := make([]string, 0, 6)
	seen := map[string]bool{}
	add := func(s string) {
		if !seen[s] && len(out) < 6 {
			out = append(out, s)
			seen[s] = true
		}
	}

	add(pathAndQuery)
	add(pathOnly)

	if pathOnly != "/" {
		add("/")
	}

	trimmed := strings.TrimPrefix(pathOnly, "/")
	segments := strings.Split(trimmed, "/")
	var prefix strings.Builder
	prefix.WriteByte('/')
	for i := 0; i < len(segments)-1; i++ {
		prefix.WriteString(segments[i])
		prefix.WriteByte('/')
		add(prefix.String())
	}

	return out
}
