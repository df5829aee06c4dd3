package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const dbUsage = "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-client ID] [-limit N] snapshots|ticks|joins|leaves|inputs|corrections|tuning"

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	clientID := fs.Uint64("client", 0, "client_id filter (joins, inputs, corrections)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := runQuery(db, q, *limit, *clientID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, dbUsage)
			os.Exit(2)
		}
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type snapshotRow struct {
	Tick        uint64 `json:"tick"`
	Path        string `json:"path"`
	WorldID     string `json:"world_id"`
	Seed        int64  `json:"seed"`
	Entities    int    `json:"entities"`
	SpawnPoints int    `json:"spawn_points"`
	NextClient  uint64 `json:"next_client"`
}

type tickRow struct {
	Tick        uint64 `json:"tick"`
	Digest      string `json:"digest"`
	Joins       int    `json:"joins"`
	Leaves      int    `json:"leaves"`
	Inputs      int    `json:"inputs"`
	Corrections int    `json:"corrections"`
}

type joinRow struct {
	Tick     uint64 `json:"tick"`
	ClientID uint64 `json:"client_id"`
	Name     string `json:"name"`
	Spectate bool   `json:"spectate"`
}

type leaveRow struct {
	Tick     uint64 `json:"tick"`
	ClientID uint64 `json:"client_id"`
}

type inputRow struct {
	Tick      uint64          `json:"tick"`
	ClientID  uint64          `json:"client_id"`
	InputTick uint64          `json:"input_tick"`
	Stale     bool            `json:"stale"`
	Throttles json.RawMessage `json:"throttles"`
}

type correctionRow struct {
	Tick     uint64 `json:"tick"`
	ClientID uint64 `json:"client_id"`
	FromTick uint64 `json:"from_tick"`
	ToTick   uint64 `json:"to_tick"`
}

type tuningRow struct {
	Name      string          `json:"name"`
	Digest    string          `json:"digest"`
	UpdatedAt string          `json:"updated_at"`
	Tuning    json.RawMessage `json:"tuning"`
}

// runQuery returns the rows of one named read-model query, newest first.
func runQuery(db *sql.DB, q string, limit int, clientID uint64) ([]any, error) {
	if limit <= 0 {
		limit = 20
	}
	// client_id=0 matches every client.
	clientFilter := func(base string) (string, []any) {
		if clientID == 0 {
			return base + ` ORDER BY tick DESC LIMIT ?`, []any{limit}
		}
		return base + ` WHERE client_id=? ORDER BY tick DESC LIMIT ?`, []any{clientID, limit}
	}

	var out []any
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,world_id,seed,entities,spawn_points,next_client FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r snapshotRow
			if err := rows.Scan(&r.Tick, &r.Path, &r.WorldID, &r.Seed, &r.Entities, &r.SpawnPoints, &r.NextClient); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,joins,leaves,inputs,corrections FROM ticks ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r tickRow
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Joins, &r.Leaves, &r.Inputs, &r.Corrections); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "joins":
		query, args := clientFilter(`SELECT tick,client_id,name,spectate FROM joins`)
		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r joinRow
			if err := rows.Scan(&r.Tick, &r.ClientID, &r.Name, &r.Spectate); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "leaves":
		query, args := clientFilter(`SELECT tick,client_id FROM leaves`)
		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r leaveRow
			if err := rows.Scan(&r.Tick, &r.ClientID); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "inputs":
		query, args := clientFilter(`SELECT tick,client_id,input_tick,stale,throttles_json FROM inputs`)
		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r inputRow
			var raw string
			if err := rows.Scan(&r.Tick, &r.ClientID, &r.InputTick, &r.Stale, &raw); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			r.Throttles = json.RawMessage(raw)
			out = append(out, r)
		}
		return out, rows.Err()

	case "corrections":
		query, args := clientFilter(`SELECT tick,client_id,from_tick,to_tick FROM corrections`)
		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r correctionRow
			if err := rows.Scan(&r.Tick, &r.ClientID, &r.FromTick, &r.ToTick); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "tuning":
		var r tuningRow
		var raw string
		err := db.QueryRow(`SELECT name,digest,updated_at,json FROM configs WHERE name='tuning'`).Scan(&r.Name, &r.Digest, &r.UpdatedAt, &raw)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		r.Tuning = json.RawMessage(raw)
		return []any{r}, nil

	default:
		return nil, fmt.Errorf("unknown query: %s", q)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
