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
package mac

import "testing"

func TestParseNewKeyResponse(t *testing.T) {
	clientKey := "AxedaJP5eb+g/Y6kAoMjb7f/kFY="
	wrappedKey := "AGy4AQj92rvjMJkBBGIDFTEavn7hUEPgYwvcDFM4JK0="
	body := "clientkey:" + itoa(len(clientKey)) + ":" + clientKey + "\n" +
		"wrappedkey:" + itoa(len(wrappedKey)) + ":" + wrappedKey

	kp, err := ParseNewKeyResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(kp.ClientKey) == 0 {
		t.Error("client key not decoded")
	}
	if kp.WrappedKey != wrappedKey {
		t.Errorf("wrapped key mismatch: got %q", kp.WrappedKey)
	}
}

func TestParseNewKeyResponseBadLength(t *testing.T) {
	_, err := ParseNewKeyResponse("clientkey:99:short\nwrappedkey:4:abcd")
	if err == nil {
		t.Error("expected error for mismatched declared length")
	}
}

func TestComputeVerify(t *testing.T) {
	key := []byte("supersecret")
	body := []byte("n:1200\ni:goog-malware-shavar\n")
	digest := Compute(key, body)
	if !Verify(key, body, digest) {
		t.Error("expected digest to verify against its own body")
	}
	if Verify(key, []byte("tampered"), digest) {
		t.Error("expected digest verification to fail against different body")
	}
}

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{digits[n%10]}, b...)
		n /= 10
	}
	return string(b)
}
