package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/server"
)

// adminClient is a thin JSON client for the admin API.
type adminClient struct {
	base string
	http *http.Client
}

func newAdminClient() *adminClient {
	return &adminClient{
		base: strings.TrimRight(adminAddr, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes a JSON answer into out when out is non-nil.
// Error envelopes become Go errors carrying the API error type and message.
func (c *adminClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var body server.ErrorBody
		if json.Unmarshal(raw, &body) == nil && body.Error != nil {
			return fmt.Errorf("%s %s: %w", method, path, body.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
