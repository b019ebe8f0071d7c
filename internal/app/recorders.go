package app

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// recorders fans the run lifecycle out to every configured ledger.
type recorders []crawler.RunRecorder

func (rs recorders) StartRun(ctx context.Context, runID string, startedAt time.Time, catalogURL string) error {
	var errs []error
	for _, r := range rs {
		if err := r.StartRun(ctx, runID, startedAt, catalogURL); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rs recorders) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status crawler.RunStatus,
	totals crawler.RunTotals,
	errMsg string,
) error {
	var errs []error
	for _, r := range rs {
		if err := r.CompleteRun(ctx, runID, finishedAt, status, totals, errMsg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
