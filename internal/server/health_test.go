package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakePinger reports err on every probe.
type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string               { return f.name }
func (f *fakePinger) Ping(context.Context) error { return f.err }

func newReadyTestServer(pingers ...Pinger) *Server {
	s := newTestServer()
	s.pingers = pingers
	return s
}

// getReady calls handleReady and decodes the body.
func getReady(t *testing.T, s *Server) (int, readyResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(&fakePinger{name: "sqlite", err: errors.New("down")})
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	// Liveness never probes dependencies.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	cases := []struct {
		name      string
		pingers   []Pinger
		wantCode  int
		wantReady bool
		wantOK    map[string]bool
	}{
		{
			name:      "no dependencies",
			wantCode:  http.StatusOK,
			wantReady: true,
			wantOK:    map[string]bool{},
		},
		{
			name:      "all healthy",
			pingers:   []Pinger{&fakePinger{name: "sqlite"}, &fakePinger{name: "qdrant"}},
			wantCode:  http.StatusOK,
			wantReady: true,
			wantOK:    map[string]bool{"sqlite": true, "qdrant": true},
		},
		{
			name:      "one failing",
			pingers:   []Pinger{&fakePinger{name: "sqlite"}, &fakePinger{name: "qdrant", err: refused}},
			wantCode:  http.StatusServiceUnavailable,
			wantReady: false,
			wantOK:    map[string]bool{"sqlite": true, "qdrant": false},
		},
		{
			name:      "all failing",
			pingers:   []Pinger{&fakePinger{name: "reranker", err: refused}, &fakePinger{name: "ollama", err: refused}},
			wantCode:  http.StatusServiceUnavailable,
			wantReady: false,
			wantOK:    map[string]bool{"reranker": false, "ollama": false},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, resp := getReady(t, newReadyTestServer(tc.pingers...))
			if code != tc.wantCode {
				t.Fatalf("status = %d, want %d", code, tc.wantCode)
			}
			if resp.Ready != tc.wantReady {
				t.Errorf("ready = %v, want %v", resp.Ready, tc.wantReady)
			}
			if len(resp.Checks) != len(tc.wantOK) {
				t.Fatalf("checks = %+v, want %d", resp.Checks, len(tc.wantOK))
			}
			for _, c := range resp.Checks {
				if c.OK != tc.wantOK[c.Name] {
					t.Errorf("%s: ok = %v, want %v", c.Name, c.OK, tc.wantOK[c.Name])
				}
				if !c.OK && c.Error == "" {
					t.Errorf("%s: failed check without error text", c.Name)
				}
			}
		})
	}
}

// waitPinger succeeds only once another probe has started, so it passes
// only when probes run concurrently.
type waitPinger struct {
	name  string
	other <-chan struct{}
}

func (p *waitPinger) Name() string { return p.name }
func (p *waitPinger) Ping(ctx context.Context) error {
	select {
	case <-p.other:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalPinger closes started when probed.
type signalPinger struct {
	name    string
	started chan struct{}
}

func (p *signalPinger) Name() string { return p.name }
func (p *signalPinger) Ping(context.Context) error {
	close(p.started)
	return nil
}

func TestHandleReady_ConcurrentProbesKeepOrder(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	code, resp := getReady(t, newReadyTestServer(
		&waitPinger{name: "sqlite", other: started},
		&signalPinger{name: "ollama", started: started},
	))

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200; checks: %+v", code, resp.Checks)
	}
	if len(resp.Checks) != 2 || resp.Checks[0].Name != "sqlite" || resp.Checks[1].Name != "ollama" {
		t.Errorf("checks = %+v, want [sqlite ollama]", resp.Checks)
	}
}
