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
// Package httpclient wraps net/http with the defaults the update and
// lookup engines need: a bounded timeout, optional gzip negotiation,
// and a fixed User-Agent string identifying this client to the server.
package httpclient

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Config controls how a Client is constructed.
type Config struct {
	// Timeout bounds every request. Zero means defaultTimeout.
	Timeout time.Duration
	// UserAgent is sent on every request.
	UserAgent string
	// InsecureSkipVerify disables TLS certificate verification. Only
	// ever useful against a local test server; never set in
	// production.
	InsecureSkipVerify bool
}

// Client issues GET/POST requests against the update and lookup
// endpoints.
type Client struct {
	http      *http.Client
	userAgent string
}

// New builds a Client from cfg, applying defaults for zero fields.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "sbv2-client/1.0"
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent: userAgent,
	}
}

// Request issues a GET (body == "") or POST against url, returning the
// response body read into memory and the HTTP status code. If
// acceptGzip is set, a gzip-encoded response is transparently
// decompressed.
func (c *Client) Request(ctx context.Context, url, body string, acceptGzip bool) (statusCode int, data []byte, err error) {
	var req *http.Request
	if body == "" {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	}
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if acceptGzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, fmt.Errorf("reading gzip response: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err = io.ReadAll(reader)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, data, nil
}
