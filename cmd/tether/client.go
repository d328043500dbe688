package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seantiz/tether/internal/model"
)

// apiClient is a thin HTTP client for the tetherd API.
type apiClient struct {
	base string
}

type listResponse struct {
	Requests []*model.Request `json:"requests"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

func (c *apiClient) httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) submit(payload json.RawMessage, mode, reason string) (*model.Request, error) {
	body := map[string]any{"payload": payload, "mode": mode, "reason": reason}
	var rec model.Request
	if err := c.do(http.MethodPost, "/v1/requests", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *apiClient) get(id string) (*model.Request, error) {
	var rec model.Request
	if err := c.do(http.MethodGet, "/v1/requests/"+id, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *apiClient) list(limit, offset int) (*listResponse, error) {
	var out listResponse
	path := fmt.Sprintf("/v1/requests?limit=%d&offset=%d", limit, offset)
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) cancelAll(reason string) error {
	return c.do(http.MethodDelete, "/v1/requests", map[string]string{"reason": reason}, nil)
}

func (c *apiClient) restartWorker() error {
	return c.do(http.MethodPost, "/v1/worker/restart", nil, nil)
}
