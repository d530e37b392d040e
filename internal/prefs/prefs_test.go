package prefs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/graphiti-browser/internal/kvstore"
)

type brokenKV struct{}

func (brokenKV) Get(context.Context, string, any) (bool, error) {
	return false, errors.New("disk gone")
}
func (brokenKV) Put(context.Context, string, any) error { return errors.New("disk gone") }
func (brokenKV) Delete(context.Context, string) error   { return errors.New("disk gone") }
func (brokenKV) Close() error                           { return nil }

func TestPrefs_Defaults(t *testing.T) {
	p := New(kvstore.NewMemoryStore())
	ctx := context.Background()

	if got := p.LastDocument(ctx); got != "" {
		t.Errorf("last document = %q", got)
	}
	if got := p.LastFolder(ctx); got != "" {
		t.Errorf("last folder = %q", got)
	}
	if p.NotificationsDisabled(ctx) {
		t.Error("notifications disabled by default")
	}
}

func TestPrefs_PersistAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	kv, err := kvstore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p := New(kv)
	p.SetLastDocument(ctx, "notes/today.md")
	p.SetLastFolder(ctx, "notes")
	p.SetNotificationsDisabled(ctx, true)
	kv.Close()

	kv2, err := kvstore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv2.Close()
	p2 := New(kv2)

	if got := p2.LastDocument(ctx); got != "notes/today.md" {
		t.Errorf("last document = %q", got)
	}
	if got := p2.LastFolder(ctx); got != "notes" {
		t.Errorf("last folder = %q", got)
	}
	if !p2.NotificationsDisabled(ctx) {
		t.Error("notifications toggle not persisted")
	}
}

func TestPrefs_StorageFailureDegrades(t *testing.T) {
	p := New(brokenKV{})
	ctx := context.Background()

	if got := p.LastDocument(ctx); got != "" {
		t.Errorf("read failure should return default, got %q", got)
	}

	p.SetNotificationsDisabled(ctx, true)
	if !p.NotificationsDisabled(ctx) {
		t.Error("failed write should still apply for the session")
	}
}

func TestPrefs_SeesChangesFromOtherInstances(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	watcher, toggler := New(kv), New(kv)

	toggler.SetNotificationsDisabled(ctx, false)
	if watcher.NotificationsDisabled(ctx) {
		t.Fatal("expected notifications enabled")
	}

	toggler.SetNotificationsDisabled(ctx, true)
	if !watcher.NotificationsDisabled(ctx) {
		t.Error("change from another instance not seen")
	}
}
