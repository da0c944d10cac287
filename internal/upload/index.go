package upload

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mpy-sync/internal/remotefs"
)

// RemoteFile is the checksum of a file as last written to or read from a
// device.
type RemoteFile struct {
	ID        uint   `gorm:"primarykey"`
	Device    string `gorm:"uniqueIndex:idx_device_path;not null"`
	Path      string `gorm:"uniqueIndex:idx_device_path;not null"`
	Hash      string `gorm:"not null"`
	Size      int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HashIndex remembers remote checksums so unchanged files can be skipped
// without reading them back from the board. It follows tree changes as a
// remotefs.Observer.
type HashIndex struct {
	db     *gorm.DB
	device string
}

// OpenIndex opens (creating if needed) the index database at dbPath for the
// given device key.
func OpenIndex(dbPath, device string) (*HashIndex, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if err := db.AutoMigrate(&RemoteFile{}); err != nil {
		return nil, fmt.Errorf("failed to migrate index database: %w", err)
	}
	return &HashIndex{db: db, device: device}, nil
}

// Lookup returns the recorded checksum of path when its recorded size is size.
func (ix *HashIndex) Lookup(path string, size int64) (string, bool) {
	var rows []RemoteFile
	err := ix.db.Where("device = ? AND path = ?", ix.device, remotefs.Clean(path)).Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 || rows[0].Size != size {
		return "", false
	}
	return rows[0].Hash, true
}

// Record stores the checksum of path.
func (ix *HashIndex) Record(path string, size int64, hash string) error {
	row := RemoteFile{Device: ix.device, Path: remotefs.Clean(path)}
	return ix.db.Where("device = ? AND path = ?", row.Device, row.Path).
		Assign(map[string]interface{}{"hash": hash, "size": size}).
		FirstOrCreate(&row).Error
}

// Forget drops path and everything below it.
func (ix *HashIndex) Forget(path string) error {
	p := remotefs.Clean(path)
	if p == "" {
		return ix.Reset()
	}
	rows, err := ix.under(p)
	if err != nil || len(rows) == 0 {
		return err
	}
	ids := make([]uint, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ix.db.Delete(&RemoteFile{}, ids).Error
}

// Move re-keys path and everything below it to newPath.
func (ix *HashIndex) Move(path, newPath string) error {
	from, to := remotefs.Clean(path), remotefs.Clean(newPath)
	rows, err := ix.under(from)
	if err != nil {
		return err
	}
	if err := ix.Forget(to); err != nil {
		return err
	}
	return ix.db.Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			if err := tx.Model(&RemoteFile{}).Where("id = ?", r.ID).Update("path", to+r.Path[len(from):]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// under returns the rows for p and its descendants. LIKE narrows the scan;
// the prefix test makes it exact since SQLite's LIKE ignores ASCII case.
func (ix *HashIndex) under(p string) ([]RemoteFile, error) {
	var rows []RemoteFile
	err := ix.db.Where(`device = ? AND (path = ? OR path LIKE ? ESCAPE '\')`, ix.device, p, likePrefix(p)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Path == p || strings.HasPrefix(r.Path, p+"/") {
			out = append(out, r)
		}
	}
	return out, nil
}

// Reset clears every entry of this device.
func (ix *HashIndex) Reset() error {
	return ix.db.Where("device = ?", ix.device).Delete(&RemoteFile{}).Error
}

// Count returns the number of entries of this device.
func (ix *HashIndex) Count() (int64, error) {
	var n int64
	err := ix.db.Model(&RemoteFile{}).Where("device = ?", ix.device).Count(&n).Error
	return n, err
}

func (ix *HashIndex) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (ix *HashIndex) Before([]remotefs.Event) {}

// After keeps the index in line with device changes.
func (ix *HashIndex) After(events []remotefs.Event) {
	for _, e := range events {
		var err error
		switch e.Kind {
		case remotefs.EventDelete, remotefs.EventCreate, remotefs.EventContentChange:
			err = ix.Forget(e.Path)
		case remotefs.EventRename, remotefs.EventMove:
			err = ix.Move(e.OldPath, e.Path)
		}
		if err != nil {
			log.Printf("[index] failed to follow %s of %s: %v", e.Kind, e.Path, err)
		}
	}
}

func likePrefix(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(p) + "/%"
}
