package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/database"
)

const (
	archivePrefix = "stockpilot-backup-"
	archiveStamp  = "2006-01-02-150405"

	// minBackupsKept backups survive rotation regardless of age.
	minBackupsKept = 3
)

// BackupService snapshots the sqlite databases into one tar.gz archive and
// ships it to the object store. Snapshots use VACUUM INTO, so readers and
// writers keep running during a backup.
type BackupService struct {
	databases     []*database.DB
	store         ObjectStore
	dataDir       string
	retentionDays int
	log           zerolog.Logger
}

// NewBackupService creates the backup service. retentionDays 0 keeps every
// archive.
func NewBackupService(databases []*database.DB, store ObjectStore, dataDir string, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases:     databases,
		store:         store,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("component", "backup").Logger(),
	}
}

// Run performs one full backup cycle: snapshot, archive, upload, rotate.
func (s *BackupService) Run(ctx context.Context) error {
	start := time.Now()

	staging, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	var files []string
	for _, db := range s.databases {
		snapshot := filepath.Join(staging, db.Name()+".db")
		if err := s.snapshot(db, snapshot); err != nil {
			return fmt.Errorf("snapshot %s: %w", db.Name(), err)
		}
		files = append(files, snapshot)
	}

	archiveName := archivePrefix + time.Now().UTC().Format(archiveStamp) + ".tar.gz"
	archivePath := filepath.Join(staging, archiveName)
	if err := createArchive(archivePath, files); err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()
	if err := s.store.Upload(ctx, archiveName, f); err != nil {
		return err
	}

	info, _ := os.Stat(archivePath)
	var size int64
	if info != nil {
		size = info.Size()
	}
	s.log.Info().Str("archive", archiveName).Int64("size_bytes", size).
		Dur("took", time.Since(start)).Msg("Backup uploaded")

	if err := s.Rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// snapshot copies one database atomically with VACUUM INTO after forcing a
// WAL checkpoint so the snapshot carries every committed write.
func (s *BackupService) snapshot(db *database.DB, dest string) error {
	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint before backup failed")
	}
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return fmt.Errorf("VACUUM INTO failed: %w", err)
	}
	return nil
}

// Rotate deletes archives past the retention window, always keeping the
// newest minBackupsKept.
func (s *BackupService) Rotate(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return err
	}

	type backup struct {
		key string
		at  time.Time
	}
	var backups []backup
	for _, obj := range objects {
		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), ".tar.gz")
		at, err := time.Parse(archiveStamp, stamp)
		if err != nil {
			continue
		}
		backups = append(backups, backup{key: obj.Key, at: at})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].at.After(backups[j].at) })

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minBackupsKept || b.at.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.key); err != nil {
			s.log.Warn().Err(err).Str("key", b.key).Msg("Old backup delete failed")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Int("kept", len(backups)-deleted).Msg("Backups rotated")
	}
	return nil
}

func createArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addFile(tw, path); err != nil {
			return fmt.Errorf("adding %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
