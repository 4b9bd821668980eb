package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// SnapshotSource is the part of the ledger a backup reads from and restores
// into.
type SnapshotSource interface {
	All(ctx context.Context, store string) ([]models.LedgerEntry, error)
	Ingest(ctx context.Context, source string, entries []models.LedgerEntry) (int, error)
}

type BackupService struct {
	BackupDir string
	Cron      *cron.Cron
	docs      SnapshotSource
	now       func() time.Time
}

type BackupFile struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Time     time.Time `json:"time"`
}

// snapshot is the on-disk backup format.
type snapshot struct {
	CreatedAt time.Time                       `json:"createdAt"`
	Stores    map[string][]models.LedgerEntry `json:"stores"`
}

// NewBackupService prepares backupDir and registers the scheduled backup.
// An empty schedule disables it.
func NewBackupService(docs SnapshotSource, backupDir, schedule string) *BackupService {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		logger.Log().WithError(err).Error("Failed to create backup directory")
	}

	s := &BackupService{
		BackupDir: backupDir,
		Cron:      cron.New(),
		docs:      docs,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if schedule != "" {
		_, err := s.Cron.AddFunc(schedule, func() {
			logger.Log().Info("Starting scheduled backup")
			if name, err := s.CreateBackup(); err != nil {
				logger.Log().WithError(err).Error("Scheduled backup failed")
			} else {
				logger.Log().WithField("backup", name).Info("Scheduled backup created")
			}
		})
		if err != nil {
			logger.Log().WithError(err).WithField("schedule", schedule).Error("Failed to schedule backups")
		}
	}
	return s
}

func (s *BackupService) Start() { s.Cron.Start() }

// Stop waits for a running backup to finish.
func (s *BackupService) Stop() { <-s.Cron.Stop().Done() }

// CreateBackup writes a snapshot of every ledger store and returns its
// filename.
func (s *BackupService) CreateBackup() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	snap := snapshot{CreatedAt: s.now(), Stores: make(map[string][]models.LedgerEntry, len(ledger.Stores))}
	for _, store := range ledger.Stores {
		entries, err := s.docs.All(ctx, store)
		if err != nil {
			return "", fmt.Errorf("snapshot %s: %w", store, err)
		}
		snap.Stores[store] = entries
	}

	filename := fmt.Sprintf("backup-%s.json", snap.CreatedAt.Format("2006-01-02_15-04-05.000"))
	path := filepath.Join(s.BackupDir, filename)

	tmp, err := os.CreateTemp(s.BackupDir, ".backup-*.tmp")
	if err != nil {
		return "", err
	}
	enc := json.NewEncoder(tmp)
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return filename, nil
}

// ListBackups returns snapshots newest first.
func (s *BackupService) ListBackups() ([]BackupFile, error) {
	entries, err := os.ReadDir(s.BackupDir)
	if err != nil {
		return nil, err
	}

	backups := []BackupFile{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "backup-") || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupFile{
			Filename: entry.Name(),
			Size:     info.Size(),
			Time:     info.ModTime(),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Filename > backups[j].Filename })
	return backups, nil
}

// GetBackupPath resolves filename inside the backup directory, rejecting
// anything that would escape it.
func (s *BackupService) GetBackupPath(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid filename")
	}
	return filepath.Join(s.BackupDir, filename), nil
}

func (s *BackupService) DeleteBackup(filename string) error {
	path, err := s.GetBackupPath(filename)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// RestoreBackup ingests a snapshot back into the ledger and returns how many
// entries were new. Entries the ledger already holds are skipped.
func (s *BackupService) RestoreBackup(filename string) (int, error) {
	path, err := s.GetBackupPath(filename)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	total := 0
	for _, store := range ledger.Stores {
		n, err := s.docs.Ingest(ctx, "backup:"+filename, snap.Stores[store])
		total += n
		if err != nil {
			return total, fmt.Errorf("restore %s: %w", store, err)
		}
	}
	return total, nil
}
