package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/config"
	"github.com/sandeepkv93/learning-platform-auth/internal/health"
)

func testConfig() *config.Config {
	return &config.Config{
		ShutdownTimeout:              10 * time.Second,
		ShutdownHTTPDrainTimeout:     2 * time.Second,
		ShutdownObservabilityTimeout: 3 * time.Second,
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestNewAssignsDependenciesAndTimeouts(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}
	readiness := health.NewProbeRunner(100*time.Millisecond, 50*time.Millisecond)
	task := func(context.Context) error { return nil }

	a := New(cfg, logger, server, nil, nil, nil, readiness, task)
	if a.Config != cfg || a.Logger != logger || a.Server != server || a.Readiness != readiness {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout || a.ShutdownHTTPDrainTimeout != cfg.ShutdownHTTPDrainTimeout || a.ShutdownObservabilityTimeout != cfg.ShutdownObservabilityTimeout {
		t.Fatal("expected app shutdown timeouts copied from config")
	}
	if len(a.Tasks) != 1 {
		t.Fatalf("expected one background task, got %d", len(a.Tasks))
	}
}

func TestRunStopsServerAndTasksOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{
		Addr:              freeAddr(t),
		ReadHeaderTimeout: time.Second,
		Handler:           http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	}
	var stopped atomic.Bool
	task := func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Store(true)
		return nil
	}
	a := New(testConfig(), logger, server, nil, nil, nil, nil, task)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + server.Addr + "/")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became reachable: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if !stopped.Load() {
		t.Fatal("expected background task to observe cancellation")
	}
}

func TestRunReturnsFailingTaskError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: freeAddr(t), ReadHeaderTimeout: time.Second, Handler: http.NotFoundHandler()}
	boom := errors.New("cleanup crashed")
	a := New(testConfig(), logger, server, nil, nil, nil, nil, func(context.Context) error { return boom })

	select {
	case err := <-runAsync(a):
		if !errors.Is(err, boom) {
			t.Fatalf("expected task error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after task failure")
	}
}

func runAsync(a *App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	return done
}
