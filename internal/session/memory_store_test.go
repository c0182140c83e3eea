package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSaveLookupRevoke(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	if err := store.SaveRefreshSession(ctx, "hash-1", testIdentity(), expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	identity, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if identity != testIdentity() {
		t.Errorf("identity mismatch: %+v", identity)
	}

	if err := store.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Error("expected error after revoke")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }

	if err := store.SaveRefreshSession(ctx, "hash-1", testIdentity(), base.Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := store.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Error("expected error for expired session")
	}
}

func TestMemoryStoreAccessTokenRevocation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, err := store.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsAccessTokenRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected jti to be revoked")
	}

	revoked, err = store.IsAccessTokenRevoked(ctx, "jti-other")
	if err != nil {
		t.Fatalf("IsAccessTokenRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected unknown jti to not be revoked")
	}
}
