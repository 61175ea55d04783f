package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPushHandlerWakesLoop(t *testing.T) {
	wake := make(chan struct{}, 1)
	h := pushHandler(wake)

	data := base64.StdEncoding.EncodeToString([]byte(`{"jobId":"8d0b6f7e-2f4a-4b8e-9a55-0d3c1c1c8a11"}`))
	body := `{"message":{"data":"` + data + `","messageId":"1"},"subscription":"projects/p/subscriptions/s"}`

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/pubsub/jobs", strings.NewReader(body)))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
	}
	select {
	case <-wake:
	default:
		t.Fatalf("expected wake signal")
	}
	select {
	case <-wake:
		t.Fatalf("wake signals must coalesce")
	default:
	}
}

func TestPushHandlerAcksMalformedMessages(t *testing.T) {
	wake := make(chan struct{}, 1)
	h := pushHandler(wake)

	data := base64.StdEncoding.EncodeToString([]byte(`not json`))
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/pubsub/jobs", strings.NewReader(`{"message":{"data":"`+data+`"}}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(wake) != 0 {
		t.Fatalf("malformed message must not wake the loop")
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/pubsub/jobs", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSleepReturnsOnWake(t *testing.T) {
	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	start := time.Now()
	sleep(context.Background(), time.Minute, wake)
	if time.Since(start) > time.Second {
		t.Fatalf("sleep ignored wake signal")
	}
}
