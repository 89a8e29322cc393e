package apimart

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(Config{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		Model:     "test-model",
		Language:  "en",
		Timeout:   timeout,
		UserAgent: "NanoBanana/1.0 apimart",
	})
}

func TestSubmitSendsGenerationRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/images/generations" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid route"))
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("User-Agent") != "NanoBanana/1.0 apimart" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid user agent"))
			return
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body["model"] != "test-model" || body["prompt"] != "a banana" || body["size"] != "1:1" ||
			body["resolution"] != "4K" || body["n"] != float64(2) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("unexpected body"))
			return
		}
		if urls, ok := body["image_urls"].([]interface{}); !ok || len(urls) != 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("image_urls must be an empty array"))
			return
		}
		_, _ = w.Write([]byte(`{"task_id":"task-123"}`))
	}))
	t.Cleanup(server.Close)

	taskID, err := newTestClient(server.URL, time.Second).Submit(context.Background(), GenerateRequest{
		Prompt:     "a banana",
		Resolution: "4K",
		Count:      2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taskID != "task-123" {
		t.Fatalf("expected task-123, got %q", taskID)
	}
}

func TestSubmitAcceptsNestedTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":[{"status":"submitted","task_id":"nested-1"}]}`))
	}))
	t.Cleanup(server.Close)

	taskID, err := newTestClient(server.URL, time.Second).Submit(context.Background(), GenerateRequest{Prompt: "p", Resolution: "1K", Count: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taskID != "nested-1" {
		t.Fatalf("expected nested-1, got %q", taskID)
	}
}

func TestSubmitMissingTaskIDIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(server.URL, time.Second).Submit(context.Background(), GenerateRequest{Prompt: "p", Resolution: "1K", Count: 1})
	if !errors.Is(err, ErrMissingTaskID) || !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrMissingTaskID, got %v", err)
	}
}

func TestSubmitHTTPErrorIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("quota exceeded"))
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(server.URL, time.Second).Submit(context.Background(), GenerateRequest{Prompt: "p", Resolution: "1K", Count: 1})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected HTTPError 429, got %v", err)
	}
	if !strings.Contains(err.Error(), "status=429") || !strings.Contains(err.Error(), "body=quota exceeded") {
		t.Fatalf("expected status and body in error, got %v", err)
	}
}

func TestSubmitTimeoutIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"task_id":"late"}`))
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(server.URL, 20*time.Millisecond).Submit(context.Background(), GenerateRequest{Prompt: "p", Resolution: "1K", Count: 1})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestMissingAPIKeyIsUnavailable(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})

	if _, err := client.Submit(context.Background(), GenerateRequest{Prompt: "p"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := client.GetStatus(context.Background(), "task"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestGetStatusParsesTask(t *testing.T) {
	cases := map[string]string{
		"top level": `{"task_status":"succeeded","result_urls":["https://cdn/a.png","https://cdn/b.png"]}`,
		"nested":    `{"code":200,"data":{"id":"t-1","status":"succeeded","result_urls":["https://cdn/a.png","https://cdn/b.png"]}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/tasks/t-1" || r.URL.Query().Get("language") != "en" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_, _ = w.Write([]byte(payload))
			}))
			t.Cleanup(server.Close)

			task, err := newTestClient(server.URL, time.Second).GetStatus(context.Background(), "t-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if task.Status != "succeeded" || len(task.ResultURLs) != 2 {
				t.Fatalf("unexpected task: %+v", task)
			}
		})
	}
}

func TestGetStatusFailedCarriesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"task_status":"failed","error":{"message":"content policy"}}`))
	}))
	t.Cleanup(server.Close)

	task, err := newTestClient(server.URL, time.Second).GetStatus(context.Background(), "t-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != "failed" || task.ErrorMessage != "content policy" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestGetStatusNon2xxIsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(server.URL, time.Second).GetStatus(context.Background(), "t-3")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTPError 503, got %v", err)
	}
}
