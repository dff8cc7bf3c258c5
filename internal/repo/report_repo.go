package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/capa/internal/model"
	"github.com/xxxsen/capa/internal/pkg/dbutil"
	appErr "github.com/xxxsen/capa/internal/pkg/errors"
)

const reportTable = "capa_reports"

var reportColumns = []string{"report_id", "failure_mode", "image_id", "confidence", "is_seed", "content", "created_at", "ctime"}

type ReportRepo struct {
	db *sql.DB
}

func NewReportRepo(db *sql.DB) *ReportRepo {
	return &ReportRepo{db: db}
}

// Upsert writes the report, replacing any report with the same id.
func (r *ReportRepo) Upsert(ctx context.Context, report *model.Report) error {
	content, err := json.Marshal(report.ReportContent)
	if err != nil {
		return fmt.Errorf("encode report content: %w", err)
	}
	const query = `
		INSERT INTO capa_reports (report_id, failure_mode, image_id, confidence, is_seed, content, created_at, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (report_id) DO UPDATE SET
			failure_mode = EXCLUDED.failure_mode,
			image_id = EXCLUDED.image_id,
			confidence = EXCLUDED.confidence,
			is_seed = EXCLUDED.is_seed,
			content = EXCLUDED.content,
			created_at = EXCLUDED.created_at,
			ctime = EXCLUDED.ctime
	`
	_, err = r.db.ExecContext(ctx, query,
		report.ReportID,
		report.FailureMode,
		report.ImageID,
		report.Confidence,
		report.IsSeed,
		string(content),
		report.CreatedAt,
		report.Ctime,
	)
	return err
}

func (r *ReportRepo) GetByID(ctx context.Context, reportID string) (*model.Report, error) {
	items, err := r.selectReports(ctx, map[string]interface{}{"report_id": reportID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

// FindSeed returns the oldest seed report for the failure mode.
func (r *ReportRepo) FindSeed(ctx context.Context, failureMode string) (*model.Report, error) {
	where := map[string]interface{}{
		"failure_mode": failureMode,
		"is_seed":      true,
		"_orderby":     "ctime asc",
		"_limit":       []uint{0, 1},
	}
	items, err := r.selectReports(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *ReportRepo) List(ctx context.Context, filter model.ReportFilter) ([]model.Report, error) {
	where := map[string]interface{}{
		"_orderby": "ctime desc",
	}
	if filter.FailureMode != "" {
		where["failure_mode"] = filter.FailureMode
	}
	if filter.Seed != nil {
		where["is_seed"] = *filter.Seed
	}
	if filter.Limit > 0 {
		where["_limit"] = []uint{filter.Offset, filter.Limit}
	}
	return r.selectReports(ctx, where)
}

// ListExpired returns ids of generated reports created before cutoff.
func (r *ReportRepo) ListExpired(ctx context.Context, cutoff int64, limit uint) ([]string, error) {
	where := map[string]interface{}{
		"is_seed":  false,
		"ctime <":  cutoff,
		"_orderby": "ctime asc",
		"_limit":   []uint{0, limit},
	}
	sqlStr, args, err := builder.BuildSelect(reportTable, where, []string{"report_id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ReportRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sqlStr, args, err := builder.BuildDelete(reportTable, map[string]interface{}{"report_id in": ids})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ReportRepo) selectReports(ctx context.Context, where map[string]interface{}) ([]model.Report, error) {
	sqlStr, args, err := builder.BuildSelect(reportTable, where, reportColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Report
	for rows.Next() {
		var item model.Report
		var content []byte
		if err := rows.Scan(&item.ReportID, &item.FailureMode, &item.ImageID, &item.Confidence, &item.IsSeed, &content, &item.CreatedAt, &item.Ctime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(content, &item.ReportContent); err != nil {
			return nil, fmt.Errorf("decode report %s content: %w", item.ReportID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
