package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"starforge.io/internal/sim/tuning"
	"starforge.io/internal/sim/world"
)

func newTestWorld(t *testing.T) (*world.World, tuning.Tuning) {
	t.Helper()
	tune := tuning.Defaults()
	w, err := world.New(world.Config{ID: "w1", Mode: world.Authority, Tuning: tune, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	w.StepOnce(nil, nil, nil)
	return w, tune
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	w, tune := newTestWorld(t)
	mux := routes(w, tune, nil, serverEnv{}, log.New(io.Discard, "", 0))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `starforge_world_tick{world="w1"} 1`) {
		t.Fatalf("metrics body:\n%s", rec.Body.String())
	}
}

func TestRoutes_AdminStateIsLoopbackOnly(t *testing.T) {
	w, tune := newTestWorld(t)
	mux := routes(w, tune, nil, serverEnv{}, log.New(io.Discard, "", 0))

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var st stateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v body=%q", err, rec.Body.String())
	}
	if st.WorldID != "w1" || st.Tick != 1 || st.Mode != "authority" || st.Tuning.Seed != tune.Seed {
		t.Fatalf("state = %+v", st)
	}
}

func TestRoutes_AdminDisabledInProduction(t *testing.T) {
	w, tune := newTestWorld(t)
	mux := routes(w, tune, nil, serverEnv{DeployEnv: "production"}, log.New(io.Discard, "", 0))

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"::1":          true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q) = %v", addr, got)
		}
	}
}
