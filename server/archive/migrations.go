package archive

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE analysis(
			id INTEGER PRIMARY KEY,
			public_id TEXT NOT NULL,
			created_at INT NOT NULL,
			scene TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			similarity REAL NOT NULL,
			risk_score REAL NOT NULL,
			degraded BOOLEAN NOT NULL,
			degraded_reason TEXT,
			num_anomalies INT NOT NULL,
			num_regions INT NOT NULL,
			summary TEXT,
			mask_path TEXT,
			overlay_path TEXT,
			aoi TEXT,
			anomalies TEXT,
			geo_json TEXT
		);

		CREATE UNIQUE INDEX idx_analysis_public_id ON analysis(public_id);
		CREATE INDEX idx_analysis_created_at ON analysis(created_at);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		ALTER TABLE analysis ADD COLUMN duration_ms INT NOT NULL DEFAULT 0;
	`))

	return migs
}
