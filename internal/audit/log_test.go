package audit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

func TestLogEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := obs.Logger()
	obs.SetLogger(zap.New(core))
	defer obs.SetLogger(prev)

	ctx := obs.WithRequestID(context.Background(), "req-123")
	ctx = identity.ContextWithCaller(ctx, identity.Caller{ID: "user-42", Role: identity.RoleCoach})

	if err := LogEvent(ctx, "gateway.service.bind", map[string]string{"reason": "fixture"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["type"] != "audit" {
		t.Fatalf("unexpected type: %v", fields["type"])
	}
	if fields["event"] != "gateway.service.bind" {
		t.Fatalf("unexpected event: %v", fields["event"])
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", fields["request_id"])
	}
	if fields["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", fields["user_id"])
	}
	extra, ok := fields["fields"].(map[string]string)
	if !ok || extra["reason"] != "fixture" {
		t.Fatalf("fields missing or incorrect: %#v", fields["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

type note struct {
	Body      string
	CreatedBy string
	OwnerID   string
}

func (n *note) StampProvenance(c identity.Caller) {
	n.CreatedBy = c.ID
	n.OwnerID = c.ID
}

func TestStampOverwritesForgedFields(t *testing.T) {
	ctx := identity.ContextWithCaller(context.Background(), identity.Caller{ID: "client-a", Role: identity.RoleClient})
	n := &note{Body: "hi", CreatedBy: "coach-b", OwnerID: "coach-b"}

	if err := Stamp(ctx, n); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	if n.CreatedBy != "client-a" || n.OwnerID != "client-a" {
		t.Fatalf("forged provenance survived: %+v", n)
	}
}

func TestStampWithoutCaller(t *testing.T) {
	n := &note{CreatedBy: "coach-b"}
	if err := Stamp(context.Background(), n); !errors.Is(err, ErrMissingCaller) {
		t.Fatalf("expected ErrMissingCaller, got %v", err)
	}
	if n.CreatedBy != "coach-b" {
		t.Fatal("record must be untouched when stamping fails")
	}
}
