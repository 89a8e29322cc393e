package main

import (
	"testing"
	"time"

	"github.com/nanobanana/nanobanana-api/internal/config"
)

func TestHandleWakeup(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    bool
	}{
		{name: "submitted", payload: `{"type":"submitted","task_id":"t1"}`, want: true},
		{name: "terminal event", payload: `{"type":"failed","task_id":"t1"}`, want: false},
		{name: "malformed", payload: `not json`, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			woken := make(chan struct{}, 1)
			got := handleWakeup(tc.payload, 0, func() { woken <- struct{}{} })
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			if tc.want && len(woken) != 1 {
				t.Fatal("expected an immediate wake-up")
			}
			if !tc.want && len(woken) != 0 {
				t.Fatal("unexpected wake-up")
			}
		})
	}
}

func TestHandleWakeupWaitsForMinAge(t *testing.T) {
	woken := make(chan struct{}, 1)
	if !handleWakeup(`{"type":"submitted"}`, 20*time.Millisecond, func() { woken <- struct{}{} }) {
		t.Fatal("expected sweep to be scheduled")
	}
	if len(woken) != 0 {
		t.Fatal("wake-up fired before min age")
	}
	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("wake-up never fired")
	}
}

func TestStorageConfigCarriesBackend(t *testing.T) {
	cfg := &config.Config{
		ArchiveBackend:   "local",
		ArchiveLocalPath: "/tmp/archive",
		R2BucketName:     "results",
	}
	got := storageConfig(cfg)
	if got.Backend != "local" || got.LocalPath != "/tmp/archive" || got.R2.BucketName != "results" {
		t.Fatalf("unexpected storage config: %+v", got)
	}
}
