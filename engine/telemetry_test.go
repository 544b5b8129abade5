package engine

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestUDPTelemetrySinkPublishesJSONEnvelope(t *testing.T) {
	laddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolve listener addr: %v", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	sink, err := NewUDPTelemetrySink(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewUDPTelemetrySink: %v", err)
	}
	defer sink.Close()

	sink.Publish(ChannelTicks, map[string]int{"tick_number": 7})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}

	var msg telemetryMessage
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if msg.Channel != ChannelTicks {
		t.Fatalf("expected channel %q, got %q", ChannelTicks, msg.Channel)
	}
	if msg.Timestamp == 0 {
		t.Fatalf("expected nonzero timestamp")
	}
}

func TestUDPTelemetrySinkNilIsNoOp(t *testing.T) {
	var s *UDPTelemetrySink
	s.Publish(ChannelSync, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close on nil UDPTelemetrySink: %v", err)
	}
}

func TestGenerateClientIDIsUniqueAndPrefixed(t *testing.T) {
	a := generateClientID()
	b := generateClientID()
	if a == b {
		t.Fatalf("expected distinct client IDs, got %q twice", a)
	}
	const prefix = "wwvclock_"
	if len(a) <= len(prefix) || a[:len(prefix)] != prefix {
		t.Fatalf("expected client ID prefixed with %q, got %q", prefix, a)
	}
}
