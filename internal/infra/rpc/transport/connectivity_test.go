package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestDialChecker(t *testing.T) {
	d := NewDialChecker("192.0.2.1:443", time.Second, 100*time.Millisecond)
	if !d.Online() {
		t.Fatal("expected optimistic online before first check")
	}

	d.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connect: network is unreachable")
	}
	if d.Check(context.Background()) || d.Online() {
		t.Error("expected offline after failed dial")
	}

	d.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}
	if !d.Check(context.Background()) || !d.Online() {
		t.Error("expected online after successful dial")
	}
}

func TestStatic(t *testing.T) {
	if !AlwaysOnline.Online() {
		t.Error("AlwaysOnline must be online")
	}
	if Static(false).Online() {
		t.Error("Static(false) must be offline")
	}
}
