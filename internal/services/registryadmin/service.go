// Package registryadmin manages the signature library for the ops
// collaborator: validate, persist, and publish registry snapshots.
package registryadmin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vigil/internal/domain"
	"vigil/internal/ports"
	"vigil/internal/registry"
)

// Service implements ports.RegistryAdmin on top of the signature store and
// the in-memory registry.
type Service struct {
	repo ports.SignatureRepository
	reg  *registry.Registry
	log  *zap.Logger
	now  func() time.Time
}

func New(repo ports.SignatureRepository, reg *registry.Registry, log *zap.Logger) *Service {
	return &Service{repo: repo, reg: reg, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert validates the definition, persists it, and publishes a snapshot
// including it. A bad definition is rejected before it can touch live
// scoring.
func (s *Service) Upsert(ctx context.Context, sig domain.Signature) (domain.Signature, error) {
	if err := registry.Validate(sig); err != nil {
		return domain.Signature{}, err
	}
	now := s.now()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.UpdatedAt = now

	stored, err := s.repo.Upsert(ctx, sig)
	if err != nil {
		return domain.Signature{}, err
	}
	if err := s.reg.Upsert(stored); err != nil {
		return domain.Signature{}, err
	}
	return stored, nil
}

// Deactivate retires a signature from future scoring only; historical
// detections referencing it are never rewritten.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.reg.Deactivate(id)
	return nil
}

// List filters the stored library (active and inactive).
func (s *Service) List(ctx context.Context, f ports.SignatureFilter) ([]domain.Signature, error) {
	return s.repo.List(ctx, f)
}

// Reload rebuilds the published snapshot from storage, quarantining any
// signature whose regex no longer compiles.
func (s *Service) Reload(ctx context.Context) (int64, int, error) {
	sigs, err := s.repo.All(ctx)
	if err != nil {
		return 0, 0, err
	}
	version, quarantined := s.reg.Replace(sigs)
	s.log.Info("registry reloaded",
		zap.Int64("version", version),
		zap.Int("signatures", len(sigs)),
		zap.Int("quarantined", len(quarantined)))
	return version, len(quarantined), nil
}
