package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/storage"
)

func newArchive(t *testing.T) *storage.Storage {
	t.Helper()
	st, err := storage.New(context.Background(), &config.Archive{Driver: "memory"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func signedNote(t *testing.T, sk, content string, at int64) *nostr.Event {
	t.Helper()
	evt := &nostr.Event{Kind: 1, Content: content, CreatedAt: nostr.Timestamp(at), Tags: nostr.Tags{}}
	if err := evt.Sign(sk); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return evt
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	sk := nostr.GeneratePrivateKey()

	src := newArchive(t)
	for i, content := range []string{"one", "two", "three"} {
		if err := src.StoreEvent(ctx, signedNote(t, sk, content, int64(100+i))); err != nil {
			t.Fatal(err)
		}
	}

	path := filepath.Join(t.TempDir(), "nested", BackupName(time.Unix(0, 0)))
	exported, err := NewBackupManager(src, Discard()).Export(ctx, path)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if exported != 3 {
		t.Errorf("exported %d events, want 3", exported)
	}

	// a tampered line and a garbage line are skipped
	tampered := signedNote(t, sk, "original", 200)
	tampered.Content = "changed"
	raw, _ := tampered.MarshalJSON()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(string(raw) + "\nnot json\n\n")
	f.Close()

	dst := newArchive(t)
	imported, skipped, err := NewBackupManager(dst, Discard()).Import(ctx, path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported != 3 || skipped != 2 {
		t.Errorf("imported=%d skipped=%d, want 3 and 2", imported, skipped)
	}

	count, err := dst.CountEvents(ctx, nostr.Filter{Kinds: []int{1}})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("archive holds %d events, want 3", count)
	}
}

func TestImportMissingFile(t *testing.T) {
	_, _, err := NewBackupManager(newArchive(t), Discard()).Import(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"))
	if err == nil {
		t.Error("expected error for missing backup")
	}
}

func TestCleanOldBackups(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, BackupName(time.Unix(1, 0)))
	fresh := filepath.Join(dir, BackupName(time.Now()))
	other := filepath.Join(dir, "notes.jsonl")

	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	os.Chtimes(old, past, past)
	os.Chtimes(other, past, past)

	if err := CleanOldBackups(dir, 24*time.Hour, Discard()); err != nil {
		t.Fatalf("CleanOldBackups: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old backup was not removed")
	}
	for _, p := range []string{fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should be kept: %v", p, err)
		}
	}
}

func TestPeriodicBackupRunOnce(t *testing.T) {
	ctx := context.Background()
	st := newArchive(t)
	if err := st.StoreEvent(ctx, signedNote(t, nostr.GeneratePrivateKey(), "hi", 1)); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	p := NewPeriodicBackup(NewBackupManager(st, Discard()), dir, time.Hour, time.Hour, Discard())
	p.RunOnce(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), backupPrefix) {
		t.Errorf("unexpected backup dir contents: %v", entries)
	}
}
