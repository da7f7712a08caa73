package tui

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"pulse/internal/core"
)

// APIClient reads task state from a running pulse server
type APIClient struct {
	base string
	http *http.Client
}

// NewAPIClient creates a client for the server at baseURL
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Status returns the polling view of a task
func (c *APIClient) Status(ctx context.Context, id string) (*core.AnalysisTask, error) {
	var task core.AnalysisTask
	if _, err := c.get(ctx, "/api/analysis/status/"+url.PathEscape(id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Result returns the result of a COMPLETED task
func (c *APIClient) Result(ctx context.Context, id string) (*core.AnalysisResult, error) {
	var result core.AnalysisResult
	status, err := c.get(ctx, "/api/analysis/result/"+url.PathEscape(id), &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("result not ready (HTTP %d)", status)
	}
	return &result, nil
}

// Logs returns the task journal
func (c *APIClient) Logs(ctx context.Context, id string) ([]core.TaskLog, error) {
	var logs []core.TaskLog
	if _, err := c.get(ctx, "/api/analysis/logs/"+url.PathEscape(id), &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *APIClient) get(ctx context.Context, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return resp.StatusCode, fmt.Errorf("%s: %s", path, apiErr.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}
