package search

import (
	"context"
	"log/slog"

	"archive/api/internal/archive"
)

type recordLoader interface {
	LoadPublicRecords(ctx context.Context) ([]ItemRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Either side may be nil.
type Service struct {
	index    Indexer
	primary  Searcher
	fallback Searcher
	loader   recordLoader
	logger   *slog.Logger
}

// NewService creates a search service. meili is nil when Meilisearch is not
// configured and pgfts is nil when the backend runs without Postgres.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger.With("component", "search")}
	if meili != nil {
		s.index = meili
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

func (s *Service) indexReady() bool {
	if s.index == nil {
		return false
	}
	if h, ok := s.index.(interface{ Healthy() bool }); ok {
		return h.Healthy()
	}
	return true
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// SyncItem indexes item when the public may see it and removes it from the
// index otherwise. Runs fire-and-forget.
func (s *Service) SyncItem(profile archive.Profile, item archive.Contribution) {
	if !s.indexReady() {
		return
	}
	record, public := RecordFor(profile, item)
	go func() {
		var err error
		if public {
			err = s.index.IndexItem(record)
		} else {
			err = s.index.DeleteItem(item.ID)
		}
		if err != nil {
			s.logger.Warn("sync item", "item_id", item.ID, "public", public, "error", err)
		}
	}()
}

// RemoveItem drops an item from the index (fire-and-forget).
func (s *Service) RemoveItem(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeleteItem(id); err != nil {
			s.logger.Warn("remove item", "item_id", id, "error", err)
		}
	}()
}

// Reindex pushes every public item from PostgreSQL into Meilisearch.
func (s *Service) Reindex(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadPublicRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.index.IndexItems(records); err != nil {
		s.logger.Error("reindex failed", "error", err)
		return
	}
	s.logger.Info("reindexed public items", "count", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
