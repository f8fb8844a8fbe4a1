package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapthreads/internal/storage"
)

const (
	backupPrefix = "zapthreads-backup-"
	backupExt    = ".jsonl"
)

// BackupManager exports and imports the archive as JSON lines, one event per line
type BackupManager struct {
	storage *storage.Storage
	logger  *Logger
}

// NewBackupManager creates a new backup manager
func NewBackupManager(st *storage.Storage, logger *Logger) *BackupManager {
	if logger == nil {
		logger = Default()
	}
	return &BackupManager{
		storage: st,
		logger:  logger.WithComponent("backup"),
	}
}

// Export writes every archived event of the archived kinds to destPath
func (b *BackupManager) Export(ctx context.Context, destPath string) (int, error) {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		b.logger.LogBackupOperation("create directory", destPath, 0, err)
		return 0, fmt.Errorf("failed to create backup directory: %w", err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	count := 0
	err = b.storage.Each(ctx, nostr.Filter{Kinds: archivedKinds}, func(evt *nostr.Event) error {
		count++
		return enc.Encode(evt)
	})
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		b.logger.LogBackupOperation("export", destPath, count, err)
		return count, fmt.Errorf("failed to export archive: %w", err)
	}

	b.logger.LogBackupOperation("export", destPath, count, nil)
	b.logger.Debug("export finished", "duration_ms", time.Since(start).Milliseconds())
	return count, nil
}

// Import stores the events of a JSONL backup. Lines that do not hold a
// validly signed event are skipped and counted.
func (b *BackupManager) Import(ctx context.Context, backupPath string) (imported, skipped int, err error) {
	f, err := os.Open(backupPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	var batch []*nostr.Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt nostr.Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			skipped++
			continue
		}
		if ok, err := evt.CheckSignature(); err != nil || !ok {
			skipped++
			continue
		}
		batch = append(batch, &evt)
	}
	if err := scanner.Err(); err != nil {
		b.logger.LogBackupOperation("import", backupPath, 0, err)
		return 0, skipped, fmt.Errorf("failed to read backup: %w", err)
	}

	if err := b.storage.StoreEventBatch(ctx, batch); err != nil {
		b.logger.LogBackupOperation("import", backupPath, len(batch), err)
		return 0, skipped, err
	}

	b.logger.LogBackupOperation("import", backupPath, len(batch), nil)
	return len(batch), skipped, nil
}

// BackupName returns the file name of a backup taken at t
func BackupName(t time.Time) string {
	return backupPrefix + t.UTC().Format("20060102-150405") + backupExt
}

// PeriodicBackup runs periodic backups
type PeriodicBackup struct {
	manager  *BackupManager
	destDir  string
	interval time.Duration
	keep     time.Duration
	logger   *Logger
	stopChan chan struct{}
}

// NewPeriodicBackup creates a new periodic backup handler. A zero keep
// duration never removes old backups.
func NewPeriodicBackup(manager *BackupManager, destDir string, interval, keep time.Duration, logger *Logger) *PeriodicBackup {
	return &PeriodicBackup{
		manager:  manager,
		destDir:  destDir,
		interval: interval,
		keep:     keep,
		logger:   logger.WithComponent("periodic-backup"),
		stopChan: make(chan struct{}),
	}
}

// Start begins periodic backups and blocks until ctx is done or Stop is called
func (p *PeriodicBackup) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("periodic backup started",
		"destination", p.destDir,
		"interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("periodic backup stopped")
			return
		case <-p.stopChan:
			p.logger.Info("periodic backup stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce exports one backup and prunes the old ones
func (p *PeriodicBackup) RunOnce(ctx context.Context) {
	path := filepath.Join(p.destDir, BackupName(time.Now()))
	if _, err := p.manager.Export(ctx, path); err != nil {
		p.logger.Error("periodic backup failed", "error", err)
		return
	}

	if p.keep > 0 {
		if err := CleanOldBackups(p.destDir, p.keep, p.logger); err != nil {
			p.logger.Warn("backup cleanup failed", "error", err)
		}
	}
}

// Stop stops the periodic backup
func (p *PeriodicBackup) Stop() {
	close(p.stopChan)
}

// CleanOldBackups removes backups older than the specified age
func CleanOldBackups(backupDir string, maxAge time.Duration, logger *Logger) error {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var deleted int

	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get file info", "file", entry.Name(), "error", err)
			continue
		}

		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, entry.Name())
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to delete old backup", "file", path, "error", err)
			} else {
				deleted++
			}
		}
	}

	logger.Debug("old backup cleanup completed", "directory", backupDir, "deleted", deleted)
	return nil
}

// isBackupFile checks if a filename is a backup file
func isBackupFile(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && filepath.Ext(name) == backupExt
}
