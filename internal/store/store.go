// Package store bridges the short gap between an analysis response and a
// later export request. It is deliberately ephemeral: one in-process map with
// a TTL, valid only for the lifetime of this instance, and never a
// correctness-relevant source of truth in a scaled deployment.
package store

import (
	"log/slog"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/patrickmn/go-cache"
)

// AnalysisStore is injected rather than accessed as a package global so a
// durable backend could replace it without touching callers.
type AnalysisStore interface {
	Put(id string, result *model.AnalysisResult)
	Get(id string) (*model.AnalysisResult, bool)
	Delete(id string) bool
}

type EphemeralStore struct {
	cache *cache.Cache
	log   *slog.Logger
}

func NewEphemeralStore(cfg *config.CacheConfig, log *slog.Logger) *EphemeralStore {
	return &EphemeralStore{
		cache: cache.New(cfg.TtlForAnalysis, cfg.CleanupInterval),
		log:   log,
	}
}

func (s *EphemeralStore) Put(id string, result *model.AnalysisResult) {
	s.cache.Set(id, result, cache.DefaultExpiration)
	s.log.Debug("analysis cached.", slog.String("id", id))
}

func (s *EphemeralStore) Get(id string) (*model.AnalysisResult, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*model.AnalysisResult), true
}

func (s *EphemeralStore) Delete(id string) bool {
	if _, ok := s.cache.Get(id); !ok {
		return false
	}
	s.cache.Delete(id)
	return true
}
