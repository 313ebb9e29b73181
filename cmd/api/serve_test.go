package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func TestServeReturnsServerFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	srv := &http.Server{Addr: taken.Addr().String(), Handler: http.NotFoundHandler()}
	errc := make(chan error, 1)
	go func() { errc <- serve(context.Background(), zap.NewNop(), srv, grpc.NewServer(), bufconn.Listen(1024)) }()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected the bind failure to be returned")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the http server failed")
	}
}

func TestServeStopsCleanlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	errc := make(chan error, 1)
	go func() { errc <- serve(ctx, zap.NewNop(), srv, grpc.NewServer(), bufconn.Listen(1024)) }()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
