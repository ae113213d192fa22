package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGetUsesETagAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`[{"courseName":"Databases"}]`))
	}))
	defer srv.Close()

	f := New(t.TempDir(), srv.Client())
	req := Request{ID: "timeline", URL: srv.URL + "/timeline", Header: http.Header{"Authorization": {"Bearer tok"}}}

	first, err := f.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if first.FromCache {
		t.Fatal("first fetch should not come from cache")
	}

	second, err := f.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !second.FromCache || string(second.Body) != string(first.Body) {
		t.Fatalf("expected cached body on 304, got fromCache=%v body=%q", second.FromCache, second.Body)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", hits.Load())
	}
}

func TestGetFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := New(t.TempDir(), srv.Client())
	req := Request{ID: "feed", URL: srv.URL}
	if _, err := f.Get(context.Background(), req); err != nil {
		t.Fatalf("warm-up Get: %v", err)
	}

	fail.Store(true)
	res, err := f.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("Get with cache fallback: %v", err)
	}
	if !res.FromCache || string(res.Body) != "payload" {
		t.Fatalf("expected cached payload, got %+v", res)
	}
}

func TestGetSurfacesUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := New(t.TempDir(), srv.Client())
	_, err := f.Get(context.Background(), Request{ID: "profile", URL: srv.URL})

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected StatusError 401, got %v", err)
	}
}

func TestGetAllCollectsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(t.TempDir(), srv.Client())
	results, errs := f.GetAll(context.Background(), []Request{
		{ID: "a", URL: srv.URL + "/a"},
		{ID: "missing", URL: srv.URL + "/missing"},
		{ID: "empty"},
	})
	if len(results) != 1 || len(errs) != 2 {
		t.Fatalf("results=%d errs=%d, want 1 and 2", len(results), len(errs))
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"https://portal.example.edu/api/academic?token=abc": "https://portal.example.edu/...(redacted)",
		"http://127.0.0.1:8080":                             "http://127.0.0.1:8080/...(redacted)",
		"https://cal.example.com?key=1":                     "https://cal.example.com/...(redacted)",
		"not a url":                                         "...(redacted)",
	}
	for in, want := range cases {
		if got := RedactURL(in); got != want {
			t.Errorf("RedactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
