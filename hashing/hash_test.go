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
package hashing

import (
	"encoding/hex"
	"testing"
)

func TestHashPrefix(t *testing.T) {
	h := Hash("test.com/")
	p := PrefixOf(h)
	if hex.EncodeToString(p.Bytes()) != hex.EncodeToString(h.Bytes()[:4]) {
		t.Errorf("prefix mismatch: %x vs %x", p.Bytes(), h.Bytes()[:4])
	}
}

func TestComputeHostKeyDeterministic(t *testing.T) {
	a := ComputeHostKey("test.com")
	b := ComputeHostKey("test.com")
	if a != b {
		t.Errorf("host key not deterministic: %v vs %v", a, b)
	}
	c := ComputeHostKey("other.com")
	if a == c {
		t.Errorf("expected different host keys for different hosts")
	}
}

func TestHasPrefix(t *testing.T) {
	h := Hash("test.com/")
	p := PrefixOf(h)
	if !h.HasPrefix(p.Bytes()) {
		t.Error("expected hash to have its own prefix")
	}
	if h.HasPrefix([]byte{0, 0, 0, 0}) && p.Bytes()[0] != 0 {
		t.Error("unexpected prefix match")
	}
}
