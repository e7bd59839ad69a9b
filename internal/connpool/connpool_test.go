package connpool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/time/rate"
)

func TestDoSetsHeaders(t *testing.T) {
	var gotAccept, gotConn string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotConn = r.Header.Get("Connection")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New()
	u, _ := url.Parse(srv.URL)
	resp, err := p.Do(context.Background(), u.Host, srv.URL)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if gotAccept != "*/*" {
		t.Errorf("Accept header = %q, want */*", gotAccept)
	}
	if gotConn != "Keep-Alive" {
		t.Errorf("Connection header = %q, want Keep-Alive", gotConn)
	}
}

func TestDoIncrementsRequestCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New()
	u, _ := url.Parse(srv.URL)

	for i := 0; i < 3; i++ {
		resp, err := p.Do(context.Background(), u.Host, srv.URL)
		if err != nil {
			t.Fatalf("Do #%d: %v", i, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	e := p.hosts[u.Host]
	if e == nil {
		t.Fatal("expected connection entry for host")
	}
	if e.requestCount != 3 {
		t.Errorf("requestCount = %d, want 3", e.requestCount)
	}
}

func TestReconnectAfterRequestLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(WithRequestLimit(2))
	u, _ := url.Parse(srv.URL)

	for i := 0; i < 2; i++ {
		resp, _ := p.Do(context.Background(), u.Host, srv.URL)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	firstEntry := p.hosts[u.Host]

	resp, err := p.Do(context.Background(), u.Host, srv.URL)
	if err != nil {
		t.Fatalf("Do after limit: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	secondEntry := p.hosts[u.Host]
	if firstEntry == secondEntry {
		t.Error("expected a fresh connection entry after hitting the request limit")
	}
}

func TestDoMarksErroredOnFailure(t *testing.T) {
	p := New(WithRatePerHost(rate.Inf))
	_, err := p.Do(context.Background(), "127.0.0.1:1", "http://127.0.0.1:1/unreachable")
	if err == nil {
		t.Fatal("expected error connecting to an unreachable host")
	}
	e := p.hosts["127.0.0.1:1"]
	if e == nil || !e.errored {
		t.Error("expected entry to be marked errored after failed request")
	}
}

func TestRetireClearsPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New()
	u, _ := url.Parse(srv.URL)
	resp, _ := p.Do(context.Background(), u.Host, srv.URL)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if len(p.ActiveHosts()) != 1 {
		t.Fatalf("expected 1 active host before retire")
	}
	p.Retire()
	if len(p.ActiveHosts()) != 0 {
		t.Errorf("expected 0 active hosts after retire")
	}
}
