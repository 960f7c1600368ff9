package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/menta2k/catalog-shots/internal/utils"
	"github.com/menta2k/catalog-shots/pkg/types"
)

// Sink receives finished artifacts
type Sink interface {
	Deliver(ctx context.Context, artifact types.ProcessedArtifact) error
}

// FileSink writes artifacts below a root directory
type FileSink struct {
	root string
}

// NewFileSink creates a sink rooted at root
func NewFileSink(root string) *FileSink {
	return &FileSink{root: root}
}

// Deliver writes the artifact to root/DestinationPath, creating folders
func (s *FileSink) Deliver(ctx context.Context, a types.ProcessedArtifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel := filepath.FromSlash(a.DestinationPath)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("destination %q escapes the output directory", a.DestinationPath)
	}

	target := filepath.Join(s.root, rel)
	if err := utils.EnsureDir(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(target, a.Data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// MemorySink keeps delivered artifacts in memory
type MemorySink struct {
	mu        sync.Mutex
	artifacts []types.ProcessedArtifact
}

// Deliver records a copy of the artifact
func (s *MemorySink) Deliver(ctx context.Context, a types.ProcessedArtifact) error {
	a.Data = append([]byte(nil), a.Data...)
	s.mu.Lock()
	s.artifacts = append(s.artifacts, a)
	s.mu.Unlock()
	return nil
}

// Artifacts returns everything delivered so far
func (s *MemorySink) Artifacts() []types.ProcessedArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ProcessedArtifact(nil), s.artifacts...)
}
