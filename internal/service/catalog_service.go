package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// catalogFile is the YAML shape of a catalog file.
type catalogFile struct {
	Tools []tool.Definition `yaml:"tools"`
}

// CatalogService loads tool definitions from a YAML catalog file into the
// store, validating and risk-classifying each entry on the way in.
type CatalogService struct {
	store    outbound.CatalogStore
	logger   *slog.Logger
	validate *validator.Validate
}

// NewCatalogService builds the service over the given store.
func NewCatalogService(store outbound.CatalogStore, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{
		store:    store,
		logger:   logger,
		validate: validator.New(),
	}
}

// LoadFile reads a catalog file and registers every definition. A single
// invalid entry fails the whole load; a partially applied catalog would be
// worse than none.
func (s *CatalogService) LoadFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return s.Load(ctx, raw)
}

// Load parses and registers catalog YAML.
func (s *CatalogService) Load(ctx context.Context, raw []byte) (int, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Tools))
	for i := range file.Tools {
		def := &file.Tools[i]
		if err := s.validate.Struct(def); err != nil {
			return 0, fmt.Errorf("catalog entry %d (%s): %w", i, def.ID, err)
		}
		if seen[def.ID] {
			return 0, fmt.Errorf("catalog entry %d: duplicate id %q", i, def.ID)
		}
		seen[def.ID] = true
	}

	for i := range file.Tools {
		def := file.Tools[i]
		def.RiskLevel = tool.Classify(def)
		if err := s.store.Put(ctx, &def); err != nil {
			return 0, fmt.Errorf("register tool %s: %w", def.ID, err)
		}
		s.logger.Debug("registered tool",
			"tool_id", def.ID, "risk", string(def.RiskLevel))
	}
	return len(file.Tools), nil
}

// Register validates and stores one definition.
func (s *CatalogService) Register(ctx context.Context, def *tool.Definition) error {
	if err := s.validate.Struct(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	def.RiskLevel = tool.Classify(*def)
	return s.store.Put(ctx, def)
}

// Snapshot returns the current catalog view.
func (s *CatalogService) Snapshot(ctx context.Context) ([]*tool.Definition, error) {
	return s.store.Snapshot(ctx)
}

// Get returns one definition by id, nil when absent.
func (s *CatalogService) Get(ctx context.Context, id string) (*tool.Definition, error) {
	return s.store.Get(ctx, id)
}
