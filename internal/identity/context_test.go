package identity

import (
	"context"
	"testing"
)

func TestContextWithCallerKeepsPrincipal(t *testing.T) {
	coach := Caller{ID: "coach-a", Role: RoleCoach}
	p := Principal{Caller: coach, Token: "tok-a", Claims: Claims{Email: "a@example.test"}}
	ctx := ContextWithCaller(ContextWithPrincipal(context.Background(), p), coach)

	got, ok := PrincipalFromContext(ctx)
	if !ok {
		t.Fatal("principal lost")
	}
	if got.Token != "tok-a" || got.Claims.Email != "a@example.test" {
		t.Fatalf("token or claims dropped: %+v", got)
	}

	other := Caller{ID: "client-a", Role: RoleClient}
	ctx = ContextWithCaller(ctx, other)
	got, _ = PrincipalFromContext(ctx)
	if got.Caller != other || got.Token != "" {
		t.Fatalf("a different caller must replace the principal, got %+v", got)
	}
	if c, ok := CallerFromContext(ctx); !ok || c != other {
		t.Fatalf("caller = %+v, %v", c, ok)
	}
}

func TestPrincipalFromEmptyContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal")
	}
	if _, ok := CallerFromContext(ContextWithCaller(context.Background(), Caller{})); ok {
		t.Fatal("zero caller must not count as a caller")
	}
}
