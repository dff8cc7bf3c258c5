package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type ReportPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// ReportRetentionJob deletes generated reports older than the retention
// window. Seed reports are never purged.
type ReportRetentionJob struct {
	reports   ReportPurger
	retention time.Duration
	now       func() time.Time
}

func NewReportRetentionJob(reports ReportPurger, retentionDays int) *ReportRetentionJob {
	return &ReportRetentionJob{
		reports:   reports,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

func (j *ReportRetentionJob) Name() string {
	return "report_retention"
}

func (j *ReportRetentionJob) Run(ctx context.Context) error {
	if j.reports == nil || j.retention <= 0 {
		return nil
	}
	cutoff := j.now().Add(-j.retention)
	n, err := j.reports.PurgeExpired(ctx, cutoff)
	if n > 0 {
		logutil.GetLogger(ctx).Info("expired reports purged", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return err
}
