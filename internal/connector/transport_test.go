package connector

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"
)

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return ln, host, port
}

func TestTCPProviderOpen(t *testing.T) {
	ln, host, port := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("login: "))
		io.Copy(io.Discard, conn)
	}()

	stream, err := NewTCPProvider(host, port).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	if _, ok := stream.(readDeadliner); !ok {
		t.Fatalf("tcp stream should support read deadlines")
	}

	buf := make([]byte, len("login: "))
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "login: " {
		t.Fatalf("unexpected bytes %q", buf)
	}
}

func TestTCPProviderRefused(t *testing.T) {
	ln, host, port := listen(t)
	ln.Close()

	_, err := NewTCPProvider(host, port).Open(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if te.Op != "connect" || te.Addr != net.JoinHostPort(host, strconv.Itoa(port)) {
		t.Fatalf("unexpected transport error %+v", te)
	}
	if errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("refusal reported as timeout: %v", err)
	}
}

func TestTCPProviderConnectTimeout(t *testing.T) {
	_, host, port := listen(t)

	p := &TCPProvider{Host: host, Port: port, ConnectTimeout: time.Nanosecond}
	_, err := p.Open(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected connect timeout, got %v", err)
	}
	if errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("connect timeout must be distinguishable from idle timeout")
	}
}

func TestTCPProviderCancelled(t *testing.T) {
	_, host, port := listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTCPProvider(host, port).Open(ctx)
	if err == nil {
		t.Fatalf("expected error for cancelled dial")
	}
	if errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("cancellation reported as timeout: %v", err)
	}
}

func TestTCPProviderAddr(t *testing.T) {
	if got := NewTCPProvider("::1", 23).Addr(); got != "[::1]:23" {
		t.Fatalf("unexpected addr %q", got)
	}
	if got := NewTCPProvider("bridge.local", 2323).Addr(); got != "bridge.local:2323" {
		t.Fatalf("unexpected addr %q", got)
	}
}
