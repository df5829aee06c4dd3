package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"

	"starforge.io/internal/persistence/indexdb"
	"starforge.io/internal/sim/tuning"
	"starforge.io/internal/sim/world"
	"starforge.io/internal/transport/ws"
)

type stateResponse struct {
	WorldID string             `json:"world_id"`
	Mode    string             `json:"mode"`
	Tick    uint64             `json:"tick"`
	Tuning  tuning.Tuning      `json:"tuning"`
	Metrics world.WorldMetrics `json:"metrics"`
}

// routes wires the HTTP surface of one authority world. None of the handlers
// feed back into the simulation except /v1/ws.
func routes(w *world.World, tune tuning.Tuning, idx runtimeIndex, senv serverEnv, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var is *indexdb.Stats
		if idx != nil {
			st := idx.Stats()
			is = &st
		}
		writeMetrics(rw, w.ID(), w.CurrentTick(), w.Metrics(), is)
	})

	if senv.adminHTTP() {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(stateResponse{
				WorldID: w.ID(),
				Mode:    w.Mode().String(),
				Tick:    w.CurrentTick(),
				Tuning:  tune,
				Metrics: w.Metrics(),
			})
		})
	} else {
		logger.Printf("admin endpoints disabled (STARFORGE_ENABLE_ADMIN_HTTP=false)")
	}

	if senv.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	mux.HandleFunc("/v1/ws", ws.NewServer(w, tune.Net, logger).Handler())
	return mux
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
