package episodic

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArchiveOld moves episodes older than the cutoff into a month-stamped
// sibling database under archives/ and reclaims space in the primary store.
// days <= 0 archives everything. Returns the number of rows moved.
//
// The copy uses INSERT OR IGNORE keyed on the original episode id and runs
// before the delete, so a crash between the two leaves rows present in both
// stores and a re-run completes the move without duplicating anything.
func (s *Store) ArchiveOld(days int) (int, error) {
	cutoff := s.now()
	if days > 0 {
		cutoff = cutoff.Add(-time.Duration(days) * 24 * time.Hour)
	}
	cutoffSec := float64(cutoff.UnixNano()) / float64(time.Second)

	var pending int
	if err := s.db.Get(&pending,
		`SELECT COUNT(*) FROM episodes WHERE timestamp < ?`, cutoffSec); err != nil {
		return 0, fmt.Errorf("count archivable episodes: %w", err)
	}
	if pending == 0 {
		return 0, nil
	}

	archiveDir := filepath.Join(filepath.Dir(s.path), "archives")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}
	now := s.now()
	archivePath := filepath.Join(archiveDir,
		fmt.Sprintf("episodic_archive_%04d_%02d.db", now.Year(), int(now.Month())))

	moved, err := s.moveToArchive(archivePath, cutoffSec)
	if err != nil {
		return 0, err
	}

	if _, err := s.db.Exec(`VACUUM`); err != nil {
		// Space reclamation is best-effort; the move itself succeeded.
		s.logger.Warn("Vacuum after archive failed", "error", err)
	}

	s.logger.Info("Archived old episodes",
		"moved", moved, "cutoff_days", days, "archive", archivePath)
	return moved, nil
}

// moveToArchive copies then deletes rows older than cutoffSec, holding the
// archive attachment only for the duration of the move.
func (s *Store) moveToArchive(archivePath string, cutoffSec float64) (int, error) {
	if _, err := s.db.Exec(`ATTACH DATABASE ? AS archive`, archivePath); err != nil {
		return 0, fmt.Errorf("attach archive %s: %w", archivePath, err)
	}
	// DETACH must run even on partial failure or the shared connection
	// keeps the archive locked forever.
	defer func() {
		if _, err := s.db.Exec(`DETACH DATABASE archive`); err != nil {
			s.logger.Error("Failed to detach archive database", "error", err)
		}
	}()

	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS archive.episodes (
			id          INTEGER PRIMARY KEY,
			timestamp   REAL NOT NULL,
			event_type  TEXT NOT NULL,
			description TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			data        TEXT
		)`); err != nil {
		return 0, fmt.Errorf("create archive table: %w", err)
	}

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO archive.episodes (id, timestamp, event_type, description, outcome, data)
		 SELECT id, timestamp, event_type, description, outcome, data
		 FROM episodes WHERE timestamp < ?`, cutoffSec); err != nil {
		return 0, fmt.Errorf("copy rows to archive: %w", err)
	}

	res, err := s.db.Exec(`DELETE FROM episodes WHERE timestamp < ?`, cutoffSec)
	if err != nil {
		return 0, fmt.Errorf("delete archived rows: %w", err)
	}
	moved, _ := res.RowsAffected()
	return int(moved), nil
}
