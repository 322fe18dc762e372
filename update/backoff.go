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
	"time"
)

// backoffDuration implements the update engine's retry schedule: the
// first failure waits a flat minute, subsequent failures wait a
// widening random window, and anything past the fifth failure is
// capped at eight hours.
func backoffDuration(rng *rand.Rand, failureCount int) time.Duration {
	switch {
	case failureCount <= 1:
		return 60 * time.Second
	case failureCount == 2:
		return randMinutes(rng, 30, 60)
	case failureCount == 3:
		return randMinutes(rng, 60, 120)
	case failureCount == 4:
		return randMinutes(rng, 120, 240)
	case failureCount == 5:
		return randMinutes(rng, 240, 480)
	default:
		return 480 * time.Minute
	}
}

func randMinutes(rng *rand.Rand, lo, hi int) time.Duration {
	span := hi - lo
	mins := lo
	if span > 0 {
		mins += rng.Intn(span + 1)
	}
	return time.Duration(mins) * time.Minute
}
