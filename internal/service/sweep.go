package service

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sharelink/internal/model"
)

// SweepFailure records the step at which removing one share stopped.
type SweepFailure struct {
	Token string `json:"token"`
	Step  string `json:"step"`
	Error string `json:"error"`
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Cutoff     time.Time      `json:"cutoff"`
	Matched    int            `json:"matched"`
	Deleted    int            `json:"deleted"`
	Failed     int            `json:"failed"`
	FreedBytes int64          `json:"freed_bytes"`
	Failures   []SweepFailure `json:"failures,omitempty"`
}

// Sweep removes shares created before now minus the retention window, one at a time.
// A record is marked first so links stop resolving, then its blob is deleted, then the record.
// A failure on one share is logged and does not stop the run; the marked record is retried next run.
func (s *shareService) Sweep(ctx context.Context) (*SweepReport, error) {
	ctx, span := tracer.Start(ctx, "ShareService.Sweep")
	defer span.End()

	now := s.now().UTC()
	report := &SweepReport{Cutoff: now.Add(-s.cfg.Retention)}

	shares, err := s.repo.FindOlderThan(ctx, report.Cutoff)
	if err != nil {
		err = &DependencyError{Op: "find expired shares", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	report.Matched = len(shares)
	s.log.Info("sweep started", zap.Time("cutoff", report.Cutoff), zap.Int("matched", report.Matched))

	for i := range shares {
		sh := &shares[i]
		if step, err := s.purge(ctx, sh, now); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, SweepFailure{Token: sh.Token, Step: step, Error: err.Error()})
			s.log.Error("sweep failed to remove share",
				zap.String("token", sh.Token),
				zap.String("storage_key", sh.StorageKey),
				zap.String("step", step),
				zap.Error(err),
			)
			continue
		}
		report.Deleted++
		report.FreedBytes += sh.SizeBytes
		s.log.Info("successfully deleted", zap.String("token", sh.Token), zap.String("storage_key", sh.StorageKey))
	}

	span.SetAttributes(
		attribute.Int("sweep.matched", report.Matched),
		attribute.Int("sweep.deleted", report.Deleted),
		attribute.Int("sweep.failed", report.Failed),
	)
	s.log.Info("sweep finished",
		zap.Int("deleted", report.Deleted),
		zap.Int("failed", report.Failed),
		zap.String("freed", humanize.Bytes(uint64(report.FreedBytes))),
	)
	return report, nil
}

func (s *shareService) purge(ctx context.Context, sh *model.Share, now time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "ShareService.purge", trace.WithAttributes(attribute.String("share.token", sh.Token)))
	defer span.End()

	if err := s.repo.MarkForDeletion(ctx, sh.Token, now); err != nil {
		return "mark", err
	}
	if err := s.store.Delete(ctx, sh.StorageKey); err != nil {
		return "delete blob", err
	}
	if err := s.repo.Delete(ctx, sh.Token); err != nil {
		return "delete record", err
	}
	return "", nil
}
