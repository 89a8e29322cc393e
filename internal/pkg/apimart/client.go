package apimart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	defaultBaseURL = "https://api.apimart.ai"
	defaultSize    = "1:1"

	// error bodies are cut to this length
	maxErrorBody = 2048
)

// Config holds the APIMart connection settings
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Language  string // language of task status messages
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the APIMart asynchronous image generation API.
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	ua       string
	http     *http.Client
}

// GenerateRequest is one image generation submission
type GenerateRequest struct {
	Prompt     string
	Size       string
	Resolution string
	Count      int
}

// Task is the status of a remote task. Status is passed through as reported.
type Task struct {
	TaskID       string
	Status       string
	ResultURLs   []string
	ErrorMessage string
}

type generationBody struct {
	Model      string   `json:"model"`
	Prompt     string   `json:"prompt"`
	Size       string   `json:"size"`
	N          int      `json:"n"`
	Resolution string   `json:"resolution"`
	ImageURLs  []string `json:"image_urls"`
}

// submitResponse accepts task_id at the top level or under data[0].
type submitResponse struct {
	TaskID string `json:"task_id"`
	Data   []struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

type taskPayload struct {
	TaskID     string   `json:"task_id"`
	TaskStatus string   `json:"task_status"`
	Status     string   `json:"status"`
	ResultURLs []string `json:"result_urls"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// statusResponse accepts the task fields at the top level or under data.
type statusResponse struct {
	taskPayload
	Data *taskPayload `json:"data"`
}

// NewClient creates a new APIMart client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL:  baseURL,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    cfg.Model,
		language: cfg.Language,
		ua:       cfg.UserAgent,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Submit starts a generation task and returns its task id.
func (c *Client) Submit(ctx context.Context, req GenerateRequest) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}

	size := req.Size
	if strings.TrimSpace(size) == "" {
		size = defaultSize
	}
	payload, err := json.Marshal(generationBody{
		Model:      c.model,
		Prompt:     req.Prompt,
		Size:       size,
		N:          req.Count,
		Resolution: req.Resolution,
		ImageURLs:  []string{},
	})
	if err != nil {
		return "", fmt.Errorf("apimart submit request error: %w", err)
	}

	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/images/generations", bytes.NewReader(payload), &out); err != nil {
		return "", err
	}

	taskID := strings.TrimSpace(out.TaskID)
	if taskID == "" && len(out.Data) > 0 {
		taskID = strings.TrimSpace(out.Data[0].TaskID)
	}
	if taskID == "" {
		return "", ErrMissingTaskID
	}
	return taskID, nil
}

// GetStatus fetches the current state of a task.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*Task, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	path := "/v1/tasks/" + url.PathEscape(taskID)
	if c.language != "" {
		path += "?language=" + url.QueryEscape(c.language)
	}

	var out statusResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	p := out.taskPayload
	if out.Data != nil && p.TaskStatus == "" && p.Status == "" {
		p = *out.Data
	}

	task := &Task{
		TaskID:     taskID,
		Status:     p.TaskStatus,
		ResultURLs: p.ResultURLs,
	}
	if task.Status == "" {
		task.Status = p.Status
	}
	if p.Error != nil {
		task.ErrorMessage = p.Error.Message
	}
	return task, nil
}

func (c *Client) ready() error {
	if c == nil || c.http == nil {
		return fmt.Errorf("%w: client is nil", ErrUnavailable)
	}
	if c.apiKey == "" {
		return fmt.Errorf("%w: api key is not configured", ErrUnavailable)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("apimart request error: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("<failed to read body: %v>", readErr)}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrInvalidResponse, err)
	}
	return nil
}
