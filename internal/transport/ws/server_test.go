package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/tuning"
	"starforge.io/internal/sim/world"
)

func startAuthority(t *testing.T, tweak func(*tuning.Tuning)) (*world.World, string) {
	t.Helper()
	tu := tuning.Defaults()
	tu.TickRateHz = 100
	if tweak != nil {
		tweak(&tu)
	}
	logger := log.New(io.Discard, "", 0)
	w, err := world.New(world.Config{ID: "ws-test", Mode: world.Authority, Tuning: tu, Logger: logger})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	srv := httptest.NewServer(NewServer(w, tu.Net, logger).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return w, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_WelcomeThenReplicate(t *testing.T) {
	_, url := startAuthority(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, "alice", false, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if c.Welcome().ClientID != 1 || c.Welcome().SessionID == "" {
		t.Fatalf("welcome = %+v", c.Welcome())
	}
	if c.Welcome().WorldParams.SpawnPoints != 8 {
		t.Fatalf("world params = %+v", c.Welcome().WorldParams)
	}

	sink := make(chan protocol.ReplicateMsg, 16)
	go func() { _ = c.Run(ctx, sink) }()

	select {
	case msg := <-sink:
		if !msg.Full || len(msg.Added) == 0 {
			t.Fatalf("first replicate should be a full state: %+v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("no REPLICATE received")
	}
}

func TestHandshake_BadVersionRejected(t *testing.T) {
	_, url := startAuthority(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.9", ClientName: "old"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ack protocol.AckMsg
	if err := json.Unmarshal(msg, &ack); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ack.Type != protocol.TypeAck || ack.Code != protocol.ErrProtoVersion {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestDial_WorldFullIsRejected(t *testing.T) {
	_, url := startAuthority(t, func(tu *tuning.Tuning) { tu.Net.MaxPeers = 1 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := Dial(ctx, url, "a", false, nil)
	if err != nil {
		t.Fatalf("first Dial: %v", err)
	}
	defer first.Close()

	_, err = Dial(ctx, url, "b", false, nil)
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Code != protocol.ErrWorldBusy {
		t.Fatalf("second Dial err = %v", err)
	}
}

func TestInput_RateLimited(t *testing.T) {
	_, url := startAuthority(t, func(tu *tuning.Tuning) {
		tu.Net.InputRatePerSec = 0.001
		tu.Net.InputBurst = 1
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, "spam", true, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	codes := make(chan string, 16)
	c.OnAck = func(a protocol.AckMsg) { codes <- a.Code }
	go func() { _ = c.Run(ctx, make(chan protocol.ReplicateMsg, 64)) }()

	for i := 0; i < 3; i++ {
		if err := c.SendInput(0, map[string]float64{}); err != nil {
			t.Fatalf("SendInput: %v", err)
		}
	}
	for {
		select {
		case code := <-codes:
			if code == protocol.ErrRateLimit {
				return
			}
		case <-ctx.Done():
			t.Fatalf("no %s ack", protocol.ErrRateLimit)
		}
	}
}

func TestSupports(t *testing.T) {
	cases := []struct {
		hello protocol.HelloMsg
		want  bool
	}{
		{protocol.HelloMsg{ProtocolVersion: protocol.Version}, true},
		{protocol.HelloMsg{ProtocolVersion: "2.0", SupportedVersions: []string{"2.0", protocol.Version}}, true},
		{protocol.HelloMsg{ProtocolVersion: "2.0"}, false},
	}
	for _, tc := range cases {
		if got := supports(tc.hello); got != tc.want {
			t.Fatalf("supports(%+v) = %v, want %v", tc.hello, got, tc.want)
		}
	}
}
