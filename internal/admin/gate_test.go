package admin

import (
	"context"
	"errors"
	"testing"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

func TestGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	g := NewGate([]int64{100, 100, 7}, st, logx.Nop())

	if err := g.Seed(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.Seed(ctx); err != nil {
		t.Fatal("seeding twice must be harmless:", err)
	}
	if list, _ := g.List(ctx); len(list) != 2 {
		t.Fatalf("admins after seed = %+v", list)
	}

	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{"owner", 100, true},
		{"unknown", 555, false},
		{"zero", 0, false},
	}
	for _, tc := range tests {
		if got := g.IsAuthorized(ctx, tc.id); got != tc.want {
			t.Fatalf("%s: IsAuthorized(%d) = %v", tc.name, tc.id, got)
		}
	}

	if ok, err := g.Add(ctx, 555, 100, "helper"); err != nil || !ok {
		t.Fatalf("Add = %v, %v", ok, err)
	}
	if !g.IsAuthorized(ctx, 555) {
		t.Fatal("added admin should be authorized")
	}
	if _, err := g.Remove(ctx, 100); !errors.Is(err, ErrOwnerImmutable) {
		t.Fatalf("removing owner err = %v", err)
	}
	if ok, _ := g.Remove(ctx, 555); !ok {
		t.Fatal("Remove should report true")
	}
	if g.IsAuthorized(ctx, 555) {
		t.Fatal("removed admin must lose access")
	}
	if _, err := g.Add(ctx, -1, 100, ""); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("bad id err = %v", err)
	}
}

func TestSetOwnersHotSwap(t *testing.T) {
	t.Parallel()
	g := NewGate([]int64{1}, storage.NewMemory(), logx.Nop())
	g.SetOwners([]int64{2})
	if g.IsOwner(1) || !g.IsOwner(2) {
		t.Fatalf("owners = %v", g.Owners())
	}
}
