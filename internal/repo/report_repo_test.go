package repo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/capa/internal/config"
	"github.com/xxxsen/capa/internal/db"
	"github.com/xxxsen/capa/internal/model"
	appErr "github.com/xxxsen/capa/internal/pkg/errors"
	"github.com/xxxsen/capa/internal/repo"
)

func openTestRepo(t *testing.T) *repo.ReportRepo {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "capa",
		Password: "capa_pass",
		DBName:   "capa_test",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(conn))
	_, err = conn.Exec(`DELETE FROM capa_reports`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return repo.NewReportRepo(conn)
}

func TestReportRepoSeedLookupAndExpiry(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().Unix()

	seed := &model.Report{
		ReportID:    "SEED_Crazing_20250101",
		CreatedAt:   "2025-01-01T00:00:00",
		ImageID:     "synthetic_crazing",
		FailureMode: "Crazing",
		Confidence:  "1.0",
		IsSeed:      true,
		Ctime:       now - 1000,
	}
	seed.FiveWhys.Why1 = "surface stress"
	require.NoError(t, r.Upsert(ctx, seed))

	old := &model.Report{ReportID: "CAPA_a_1", FailureMode: "Crazing", ImageID: "a", Confidence: "0.9", CreatedAt: "x", Ctime: now - 500}
	fresh := &model.Report{ReportID: "CAPA_b_1", FailureMode: "Crazing", ImageID: "b", Confidence: "0.8", CreatedAt: "y", Ctime: now}
	require.NoError(t, r.Upsert(ctx, old))
	require.NoError(t, r.Upsert(ctx, fresh))

	got, err := r.FindSeed(ctx, "Crazing")
	require.NoError(t, err)
	require.Equal(t, seed.ReportID, got.ReportID)
	require.Equal(t, "surface stress", got.FiveWhys.Why1)

	_, err = r.FindSeed(ctx, "Scratches")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	seedOnly := true
	items, err := r.List(ctx, model.ReportFilter{Seed: &seedOnly})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = r.List(ctx, model.ReportFilter{FailureMode: "Crazing", Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "CAPA_b_1", items[0].ReportID)

	ids, err := r.ListExpired(ctx, now-100, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"CAPA_a_1"}, ids)

	n, err := r.DeleteByIDs(ctx, ids)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = r.GetByID(ctx, "CAPA_a_1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}
