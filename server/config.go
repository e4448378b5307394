package server

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/geochange/pkg/change"
)

type Config struct {
	Listen                 string         `json:"listen"`                 // eg ":8081". Ignored when Domain is set.
	Domain                 string         `json:"domain"`                 // If set, serve HTTPS on :443 with an automatic certificate for this domain
	CertDirectory          string         `json:"certDirectory"`          // Where certmagic stores certificates. Default ~/.local/share/certmagic
	DB                     dbh.DBConfig   `json:"db"`                     // Analysis archive. Defaults to sqlite at ArchivePath.
	ArchivePath            string         `json:"archivePath"`            // sqlite file used when db.driver is empty
	Storage                StorageConfig  `json:"storage"`                // Masks, overlays, and scene imagery
	MaxUploadMB            int            `json:"maxUploadMB"`            // Maximum size of an analyze request body
	MaxConcurrent          int            `json:"maxConcurrent"`          // Maximum number of analyses running at once
	AnalysisTimeoutSeconds int            `json:"analysisTimeoutSeconds"` // Per-request analysis timeout
	RateLimitPerMinute     int            `json:"rateLimitPerMinute"`     // Per-IP limit on analyze requests. Zero disables the limit.
	DefaultScene           string         `json:"defaultScene"`           // Scene used by analyze_aoi when the request names none
	FeedBacklog            int            `json:"feedBacklog"`            // Number of recent events sent to new feed subscribers
	KeepAnalyses           int            `json:"keepAnalyses"`           // Prune the archive to this many rows. Zero keeps everything.
	Change                 *change.Params `json:"change"`                 // Change detector parameters. Fields absent from the file keep their defaults.
	HotReloadWWW           bool           `json:"-"`                      // Serve static files from server/www on disk, instead of the embedded copy
}

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Prefix string `json:"prefix"` // Optional prefix of all object names
	Public bool   `json:"public"` // Whether the bucket is public. This allows us to give clients direct URLs into GCS, instead of passing the data through our service
}

func DefaultConfig() Config {
	return Config{
		Listen:                 ":8081",
		ArchivePath:            "geochange.sqlite",
		MaxUploadMB:            64,
		MaxConcurrent:          runtime.NumCPU(),
		AnalysisTimeoutSeconds: 60,
		RateLimitPerMinute:     30,
		DefaultScene:           "demo",
		FeedBacklog:            20,
		Change:                 change.NewParams(),
		Storage: StorageConfig{
			Filesystem: &StorageConfigFS{Root: "blobs"},
		},
	}
}

// LoadConfig reads a JSON config file. Fields absent from the file keep their default values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	cfgB, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfgB, &cfg); err != nil {
		return nil, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config file %v: %w", configFile, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Storage.Filesystem == nil && c.Storage.GCS == nil {
		return fmt.Errorf("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("maxUploadMB must be positive")
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = runtime.NumCPU()
	}
	if c.AnalysisTimeoutSeconds <= 0 {
		return fmt.Errorf("analysisTimeoutSeconds must be positive")
	}
	if c.DefaultScene == "" {
		c.DefaultScene = "demo"
	}
	if c.Change == nil {
		c.Change = change.NewParams()
	}
	if err := c.Change.Validate(); err != nil {
		return err
	}
	return nil
}
