package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vibelounge/backend/internal/domain"
)

// TodaySummary returns revenue, profit and sale count for the calendar day,
// optionally narrowed to one seller. Served from the summary cache when a
// fresh entry exists; cache trouble degrades to a direct ledger query.
func (s *Service) TodaySummary(ctx context.Context, soldBy string) (domain.SalesSummary, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	key := summaryCacheKey(soldBy, from)
	if cached, ok, err := s.summaries.Get(ctx, key); err != nil {
		s.logger.Warn("summary cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	summary, err := s.repo.SalesSummary(ctx, soldBy, from, to)
	if err != nil {
		return domain.SalesSummary{}, s.classifyStorageError(err)
	}

	if err := s.summaries.Set(ctx, key, &summary, s.cacheTTL); err != nil {
		s.logger.Warn("summary cache write failed", zap.String("key", key), zap.Error(err))
	}
	return summary, nil
}

// TodaySales lists the seller's sale records since midnight UTC, newest
// first.
func (s *Service) TodaySales(ctx context.Context, soldBy string) ([]domain.SaleRecord, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.ListSales(ctx, domain.SaleFilter{SoldBy: soldBy, From: from})
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	if filter.Limit < 1 {
		filter.Limit = 200
	}
	records, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, s.classifyStorageError(err)
	}
	return records, nil
}

// Analytics returns per-day revenue, profit and sale counts for the trailing
// window, most recent day first.
func (s *Service) Analytics(ctx context.Context, days int) ([]domain.DailyAnalytics, error) {
	if days < 1 {
		days = 7
	}
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -(days - 1))

	analytics, err := s.repo.DailyAnalytics(ctx, from)
	if err != nil {
		return nil, s.classifyStorageError(err)
	}
	return analytics, nil
}

// invalidateSummaries drops the cached today-summary for the affected seller
// and the all-sellers view after any ledger mutation.
func (s *Service) invalidateSummaries(ctx context.Context, soldBy string) {
	now := time.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	keys := []string{summaryCacheKey("", day)}
	if soldBy != "" {
		keys = append(keys, summaryCacheKey(soldBy, day))
	}
	if err := s.summaries.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.Error(err))
	}
}

func summaryCacheKey(soldBy string, day time.Time) string {
	if soldBy == "" {
		soldBy = "all"
	}
	return fmt.Sprintf("summary:%s:%s", soldBy, day.Format("2006-01-02"))
}
