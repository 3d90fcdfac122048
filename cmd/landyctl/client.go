package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// client is a thin wrapper around the gateway's REST API.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(gateway, token string) *client {
	return &client{
		base:  strings.TrimRight(gateway, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type submitResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	StreamToken string `json:"stream_token"`
	StreamURL   string `json:"stream_url"`
}

func (c *client) SubmitJob(ctx context.Context, req map[string]any) (*submitResponse, error) {
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) GetJob(ctx context.Context, id string) (map[string]any, error) {
	var job map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *client) GetPage(ctx context.Context, id string) (map[string]any, error) {
	var page map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/v1/public/"+id, nil, &page); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *client) GetStatus(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *client) ListFailures(ctx context.Context, limit int) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/api/v1/admin/failures?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}
