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
package update

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffDurationBuckets(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	if got := backoffDuration(rng, 0); got != 60*time.Second {
		t.Errorf("failureCount=0: got %v, want 60s", got)
	}
	if got := backoffDuration(rng, 1); got != 60*time.Second {
		t.Errorf("failureCount=1: got %v, want 60s", got)
	}

	cases := []struct {
		failureCount int
		lo, hi       time.Duration
	}{
		{2, 30 * time.Minute, 60 * time.Minute},
		{3, 60 * time.Minute, 120 * time.Minute},
		{4, 120 * time.Minute, 240 * time.Minute},
		{5, 240 * time.Minute, 480 * time.Minute},
	}
	for _, c := range cases {
		for i := 0; i < 20; i++ {
			got := backoffDuration(rng, c.failureCount)
			if got < c.lo || got > c.hi {
				t.Errorf("failureCount=%d: got %v, want [%v,%v]", c.failureCount, got, c.lo, c.hi)
			}
		}
	}

	if got := backoffDuration(rng, 6); got != 480*time.Minute {
		t.Errorf("failureCount=6: got %v, want 480m", got)
	}
	if got := backoffDuration(rng, 50); got != 480*time.Minute {
		t.Errorf("failureCount=50: got %v, want 480m", got)
	}
}

func TestRandMinutesDegenerateSpan(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	if got := randMinutes(rng, 30, 30); got != 30*time.Minute {
		t.Errorf("zero-span range: got %v, want 30m", got)
	}
}
