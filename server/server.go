package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/geochange/pkg/perfstats"
	"github.com/cyclopcam/geochange/pkg/pipeline"
	"github.com/cyclopcam/geochange/server/archive"
	"github.com/cyclopcam/geochange/server/feed"
	"github.com/cyclopcam/geochange/server/storage"
	"github.com/cyclopcam/logs"
	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log    logs.Log
	Config Config

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	pipeline   *pipeline.Pipeline
	archive    *archive.Archive
	storage    storage.Storage
	feed       *feed.Hub
	validator  *validator.Validate
	perf       *perfstats.Stages
	semaphore  chan bool // Bounds the number of concurrent analyses
}

// NewServerFromConfig opens the archive and blob store, and builds the HTTP routes
func NewServerFromConfig(logger logs.Log, cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Open blob store
	var err error
	var storageServer storage.Storage
	if cfg.Storage.GCS != nil {
		// Google Cloud Storage
		storageServer, err = storage.NewStorageGCS(logger, cfg.Storage.GCS.Bucket, cfg.Storage.GCS.Prefix, cfg.Storage.GCS.Public)
		if err != nil {
			return nil, err
		}
	} else {
		// Filesystem
		storageServer, err = storage.NewStorageFS(logger, cfg.Storage.Filesystem.Root)
		if err != nil {
			return nil, err
		}
	}

	dbCfg := cfg.DB
	if dbCfg.Driver == "" {
		dbCfg = dbh.MakeSqliteConfig(cfg.ArchivePath)
	}
	arc, err := archive.Open(logger, dbCfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Log:       logger,
		Config:    *cfg,
		pipeline:  pipeline.New(logger, cfg.Change),
		archive:   arc,
		storage:   storageServer,
		feed:      feed.NewHub(logger, cfg.FeedBacklog),
		validator: validator.New(),
		perf:      perfstats.NewStages(),
		semaphore: make(chan bool, cfg.MaxConcurrent),
	}
	if err := s.setupHttpRoutes(); err != nil {
		arc.Close()
		return nil, err
	}
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// ListenAndServe serves HTTPS if a domain is configured, otherwise plain HTTP
func (s *Server) ListenAndServe() error {
	if s.Config.Domain != "" {
		return s.ListenHTTPS()
	}
	return s.ListenHTTP(s.Config.Listen)
}

// port example: ":8081"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

// Serve HTTPS on :443 (and the ACME HTTP challenge on :80), with a certificate from Let's Encrypt
func (s *Server) ListenHTTPS() error {
	certDir := s.Config.CertDirectory
	if certDir == "" {
		home, _ := os.UserHomeDir()
		certDir = filepath.Join(home, ".local", "share", "certmagic")
	}
	s.Log.Infof("Listening on HTTPS for %v (certificates in %v)", s.Config.Domain, certDir)
	certmagic.DefaultACME.Agreed = true
	certmagic.Default.Storage = &certmagic.FileStorage{Path: certDir}
	return certmagic.HTTPS([]string{s.Config.Domain}, s.httpRouter)
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// This path gets hit when Shutdown() is called by something other than ourselves, and Shutdown() closes the signalIn channel.
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
		}
	}
	s.archive.Close()
	s.Log.Infof("Shutdown complete")
	s.Log.Close()
}

// Close releases resources without touching the log. Used by tests.
func (s *Server) Close() {
	s.archive.Close()
}

func (s *Server) analysisTimeout() time.Duration {
	return time.Duration(s.Config.AnalysisTimeoutSeconds) * time.Second
}

func (s *Server) maxUploadBytes() int64 {
	return int64(s.Config.MaxUploadMB) * 1024 * 1024
}

func blobName(publicID, file string) string {
	return fmt.Sprintf("analyses/%v/%v", publicID, file)
}
