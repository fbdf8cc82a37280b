package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/Adioame/PhotoMind-sub002/internal/cluster"
	"github.com/Adioame/PhotoMind-sub002/internal/config"
	"github.com/Adioame/PhotoMind-sub002/internal/constants"
	"github.com/Adioame/PhotoMind-sub002/internal/detect"
	"github.com/Adioame/PhotoMind-sub002/internal/embed"
	"github.com/Adioame/PhotoMind-sub002/internal/events"
	"github.com/Adioame/PhotoMind-sub002/internal/index"
	"github.com/Adioame/PhotoMind-sub002/internal/people"
	"github.com/Adioame/PhotoMind-sub002/internal/regen"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

const modelTimeout = 2 * time.Minute

// app wires the pipeline components from configuration. Every command
// builds one and closes it when done.
type app struct {
	cfg      *config.Config
	store    *store.Store
	bus      *events.Bus
	registry *people.Registry
	idx      *index.Index
	matcher  *cluster.Matcher
	detector *detect.Detector
	manager  *regen.Manager
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	s, err := store.Open(ctx, store.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	bus := events.NewBus()
	registry := people.NewRegistry(s, bus)

	idx := index.New(cfg.Database.HNSWIndexPath)
	if err := warmIndex(ctx, s, idx); err != nil {
		s.Close()
		return nil, err
	}

	matcher := cluster.NewMatcher(s, registry, idx, bus,
		cfg.Matching.Threshold, cfg.Matching.MinClusterSize)

	model := detect.NewClient(cfg.Detector.URL, modelTimeout)
	detector := detect.NewDetector(s, model, bus,
		cfg.Matching.MinConfidence, constants.MaxImageSize, cfg.Jobs.StallTimeout)

	embedder := embed.NewClient(cfg.Embedder.URL, cfg.Embedder.Model, cfg.Embedder.Dim, modelTimeout)
	manager := regen.NewManager(s, embedder, matcher, idx, bus, cfg.Jobs.StallTimeout)

	return &app{
		cfg:      cfg,
		store:    s,
		bus:      bus,
		registry: registry,
		idx:      idx,
		matcher:  matcher,
		detector: detector,
		manager:  manager,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}

// warmIndex fills the HNSW index from every stored embedding.
func warmIndex(ctx context.Context, s *store.Store, idx *index.Index) error {
	faces, err := s.ListEmbeddedFaces(ctx)
	if err != nil {
		return fmt.Errorf("loading embeddings for index: %w", err)
	}
	entries := make([]index.Entry, len(faces))
	for i, f := range faces {
		entries[i] = index.Entry{ID: f.ID, Embedding: f.Embedding}
	}
	idx.Build(entries)
	return nil
}

// syncLibrary registers every image under the library directory as a
// photo, keyed by its path relative to the library root. Already-known
// photos are left untouched.
func (a *app) syncLibrary(ctx context.Context) (int, error) {
	if a.cfg.LibraryDir == "" {
		return 0, nil
	}

	added := 0
	err := filepath.WalkDir(a.cfg.LibraryDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isImage(path) {
			return nil
		}
		rel, err := filepath.Rel(a.cfg.LibraryDir, path)
		if err != nil {
			return err
		}
		if err := a.store.UpsertPhoto(ctx, store.Photo{ID: rel, FilePath: path}); err != nil {
			return err
		}
		added++
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("scanning library %s: %w", a.cfg.LibraryDir, err)
	}
	return added, nil
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return true
	}
	return false
}
