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

const fullHashLen = 32

// FullHashBlock is one "<list>:<chunknum>:<bytelen>\n<hashes>" section of
// a gethash response body.
type FullHashBlock struct {
	List     string
	ChunkNum ChunkNum
	Hashes   [][fullHashLen]byte
}

// ReadFullHashBlock reads a single block from r. Returns io.EOF once the
// body is exhausted.
func ReadFullHashBlock(r *bufio.Reader) (*FullHashBlock, error) {
	header, err := r.ReadString('\n')
	if header == "" {
		return nil, io.EOF
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	parts := strings.Split(strings.TrimSpace(header), ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed full-hash header %q", header)
	}
	chunkNum64, convErr := strconv.ParseUint(parts[1], 10, 32)
	if convErr != nil {
		return nil, fmt.Errorf("bad chunk number in full-hash header %q: %w", header, convErr)
	}
	byteLen, convErr := strconv.Atoi(parts[2])
	if convErr != nil {
		return nil, fmt.Errorf("bad byte length in full-hash header %q: %w", header, convErr)
	}
	if byteLen%fullHashLen != 0 {
		return nil, fmt.Errorf("full-hash block length %d not a multiple of %d", byteLen, fullHashLen)
	}

	body, readErr := readExact(r, byteLen)
	if readErr != nil {
		return nil, fmt.Errorf("unexpected end of full-hash block: %w", readErr)
	}

	block := &FullHashBlock{
		List:     parts[0],
		ChunkNum: ChunkNum(chunkNum64),
		Hashes:   make([][fullHashLen]byte, 0, byteLen/fullHashLen),
	}
	for off := 0; off < byteLen; off += fullHashLen {
		var h [fullHashLen]byte
		copy(h[:], body[off:off+fullHashLen])
		block.Hashes = append(block.Hashes, h)
	}
	return block, nil
}

// ReadFullHashResponse drains every block in a gethash response body.
func ReadFullHashResponse(r io.Reader) ([]*FullHashBlock, error) {
	buf := bufio.NewReader(r)
	var blocks []*FullHashBlock
	for {
		block, err := ReadFullHashBlock(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
