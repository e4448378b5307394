// Package archive keeps a record of every analysis in a SQL database
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("Analysis not found")

// Columns that are cheap enough to return in a list
var summaryColumns = []string{
	"id", "public_id", "created_at", "scene", "width", "height", "similarity", "risk_score",
	"degraded", "degraded_reason", "num_anomalies", "num_regions", "summary", "mask_path",
	"overlay_path", "duration_ms",
}

type Archive struct {
	log logs.Log
	DB  *gorm.DB
}

// Open or create the archive
func Open(log logs.Log, config dbh.DBConfig) (*Archive, error) {
	if config.Driver == "" {
		config.Driver = dbh.DriverSqlite
	}
	if config.Driver == dbh.DriverSqlite {
		if err := os.MkdirAll(filepath.Dir(config.Database), 0770); err != nil {
			return nil, fmt.Errorf("Failed to create archive directory for '%v': %w", config.Database, err)
		}
	}
	log.Infof("Opening analysis archive (%v)", config.LogSafeDescription())
	db, err := dbh.OpenDB(log, config, Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open analysis archive: %w", err)
	}
	return &Archive{
		log: log,
		DB:  db,
	}, nil
}

// Open or create an sqlite archive
func OpenSqlite(log logs.Log, filename string) (*Archive, error) {
	return Open(log, dbh.MakeSqliteConfig(filename))
}

func (a *Archive) Close() {
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

func (a *Archive) Insert(rec *Analysis) error {
	if rec.PublicID == "" {
		return errors.New("Analysis has no public ID")
	}
	return a.DB.Create(rec).Error
}

// List returns the most recent analyses, newest first.
// The JSON columns are not loaded.
func (a *Archive) List(limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	recs := []Analysis{}
	err := a.DB.Select(summaryColumns).Order("created_at DESC, id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// Get returns a single analysis, with all of its JSON columns
func (a *Archive) Get(publicID string) (*Analysis, error) {
	rec := Analysis{}
	err := a.DB.Where("public_id = ?", publicID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete the oldest analyses, keeping only the newest 'keep' records.
// Returns the deleted records, so that the caller can remove their blobs.
func (a *Archive) Prune(keep int) ([]Analysis, error) {
	old := []Analysis{}
	if err := a.DB.Select(summaryColumns).Order("created_at DESC, id DESC").Offset(keep).Limit(1000).Find(&old).Error; err != nil {
		return nil, err
	}
	if len(old) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(old))
	for _, r := range old {
		ids = append(ids, r.ID)
	}
	if err := a.DB.Where("id IN (?)", ids).Delete(&Analysis{}).Error; err != nil {
		return nil, err
	}
	a.log.Infof("Pruned %v analyses from archive", len(old))
	return old, nil
}
