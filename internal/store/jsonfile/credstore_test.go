package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hay-kot/chatsync/internal/core/auth"
	"github.com/hay-kot/chatsync/internal/core/chat"
)

func TestCredentialStore_SaveAndLoad(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	ctx := context.Background()

	user := &chat.User{ID: "u1", Username: "alice"}
	if err := store.Save(ctx, auth.State{RefreshToken: "refresh-1", User: user}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	state, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if state.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want %q", state.RefreshToken, "refresh-1")
	}
	if state.User == nil || state.User.ID != "u1" {
		t.Errorf("User = %+v, want id u1", state.User)
	}
	if state.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should not be zero")
	}
}

func TestCredentialStore_LoadEmpty(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))

	_, err := store.Load(context.Background())
	if !errors.Is(err, auth.ErrNoSession) {
		t.Errorf("Load error = %v, want ErrNoSession", err)
	}
}

func TestCredentialStore_Clear(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	ctx := context.Background()

	_ = store.Save(ctx, auth.State{RefreshToken: "refresh-1"})

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	_, err := store.Load(ctx)
	if !errors.Is(err, auth.ErrNoSession) {
		t.Errorf("Load after Clear error = %v, want ErrNoSession", err)
	}

	// Clearing twice is fine
	if err := store.Clear(ctx); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}

func TestCredentialStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewCredentialStore(path)

	if err := store.Save(context.Background(), auth.State{RefreshToken: "secret"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestCredentialStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	ctx := context.Background()

	saved := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := NewCredentialStore(path).Save(ctx, auth.State{RefreshToken: "r", UpdatedAt: saved}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	state, err := NewCredentialStore(path).Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !state.UpdatedAt.Equal(saved) {
		t.Errorf("UpdatedAt = %v, want %v", state.UpdatedAt, saved)
	}
}

func TestCredentialStore_ConcurrentSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate instances share only the file lock
			store := NewCredentialStore(path)
			if err := store.Save(ctx, auth.State{RefreshToken: "token"}); err != nil {
				t.Errorf("Save %d failed: %v", i, err)
			}
		}()
	}
	wg.Wait()

	state, err := NewCredentialStore(path).Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.RefreshToken != "token" {
		t.Errorf("RefreshToken = %q, want %q", state.RefreshToken, "token")
	}
}
