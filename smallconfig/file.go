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
package smallconfig

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// document is the on-disk shape: a flat table, since TOML keys are
// already allowed to contain "/" when quoted, which keeps the file
// legible without nested tables for every list name.
type document struct {
	Entries map[string]string `toml:"entries"`
}

// File is a Store backed by a single TOML file on disk, written
// atomically via a temp-file-then-rename.
type File struct {
	mu       sync.Mutex
	path     string
	document document
}

// NewFile loads (or initializes) a File-backed Store at path.
func NewFile(path string) (*File, error) {
	f := &File{path: path, document: document{Entries: make(map[string]string)}}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return f, nil
	}
	if _, err := toml.DecodeFile(path, &f.document); err != nil {
		return nil, fmt.Errorf("loading small-config file %s: %w", path, err)
	}
	if f.document.Entries == nil {
		f.document.Entries = make(map[string]string)
	}
	return f, nil
}

func (f *File) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.document.Entries[key]
	return v, ok, nil
}

func (f *File) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.document.Entries[key] = value
	return f.flushLocked()
}

func (f *File) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.document.Entries, key)
	return f.flushLocked()
}

func (f *File) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.document.Entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *File) flushLocked() error {
	tmp := f.path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp small-config file: %w", err)
	}
	if err := toml.NewEncoder(out).Encode(f.document); err != nil {
		out.Close()
		return fmt.Errorf("encoding small-config file: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("renaming small-config file into place: %w", err)
	}
	return nil
}

var _ Store = (*File)(nil)
