package db

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Backup copies the SQLite file to a backup directory once a day and
// prunes copies older than the retention window. The purchase ledger is
// the system of record for paid credits, so losing it loses money.
type Backup struct {
	dbPath        string
	dir           string
	retentionDays int
	logger        *zerolog.Logger
}

func NewBackup(dbPath, dir string, retentionDays int, logger *zerolog.Logger) *Backup {
	return &Backup{
		dbPath:        dbPath,
		dir:           dir,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run blocks until ctx is done. The first backup runs immediately.
func (b *Backup) Run(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	if err := b.Perform(); err != nil {
		b.logger.Error().Err(err).Msg("initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Perform(); err != nil {
				b.logger.Error().Err(err).Msg("scheduled backup failed")
			}
			b.cleanup()
		}
	}
}

// Perform writes one timestamped copy of the database file.
func (b *Backup) Perform() error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	name := fmt.Sprintf("backup_%s.db", time.Now().Format("20060102_150405"))
	path := filepath.Join(b.dir, name)

	source, err := os.Open(b.dbPath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(path)
	if err != nil {
		return err
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return err
	}

	b.logger.Info().Str("path", path).Msg("database backup written")
	return nil
}

func (b *Backup) cleanup() {
	if b.retentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(b.dir)
	if err != nil {
		b.logger.Error().Err(err).Msg("read backup directory for cleanup")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -b.retentionDays)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			b.logger.Info().Str("file", file.Name()).Msg("deleting old backup")
			os.Remove(filepath.Join(b.dir, file.Name()))
		}
	}
}
