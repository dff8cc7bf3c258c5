package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/capa/internal/model"
	appErr "github.com/xxxsen/capa/internal/pkg/errors"
)

const generatedReport = "```json\n" + `{
  "failure_mode": "Scratches",
  "five_whys": {"why_1": "a", "why_2": "b", "why_3": "c", "why_4": "d", "why_5": "e"},
  "fishbone": {"man": "m", "machine": "mc", "material": "mt", "method": "me", "measurement": "ms", "environment": "en"},
  "8d_report": {"d1_team": "1", "d2_problem": "2", "d3_interim": "3", "d4_root_cause": "4", "d5_corrective": "5", "d6_implementation": "6", "d7_prevention": "7", "d8_recognition": "8"}
}` + "\n```"

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC)
}

func newTestReportService(t *testing.T, gen *stubGenerator) (*ReportService, *memReportRepo) {
	t.Helper()
	repo := newMemReportRepo()
	svc := NewReportService(repo, newLocalStore(t), gen, ReportServiceOptions{Timeout: time.Second, Now: fixedNow})
	return svc, repo
}

func TestGenerateReport(t *testing.T) {
	gen := &stubGenerator{output: generatedReport}
	svc, repo := newTestReportService(t, gen)
	ctx := context.Background()

	report, err := svc.Generate(ctx, GenerateReportInput{ImageID: "img-7", FailureMode: "Scratches", Confidence: "0.91"})
	require.NoError(t, err)
	require.Equal(t, "CAPA_img-7_20260301_140509", report.ReportID)
	require.Equal(t, "2026-03-01T14:05:09.000000", report.CreatedAt)
	require.Equal(t, "0.91", report.Confidence)
	require.False(t, report.IsSeed)
	require.Equal(t, "e", report.FiveWhys.Why5)
	require.Equal(t, "8", report.EightD.D8Recognition)

	stored, err := repo.GetByID(ctx, report.ReportID)
	require.NoError(t, err)
	require.Equal(t, report.ReportContent, stored.ReportContent)

	rc, err := svc.store.Get(ctx, ReportObjectKey(report.ReportID))
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "Scratches", decoded["failure_mode"])
	require.Contains(t, decoded, "8d_report")
	require.Contains(t, string(data), "\n  \"report_id\"")

	require.Len(t, gen.prompts, 1)
	require.NotContains(t, gen.prompts[0], "Here is a reference CAPA report")
}

func TestGenerateReportUsesCachedReference(t *testing.T) {
	gen := &stubGenerator{output: generatedReport}
	svc, repo := newTestReportService(t, gen)
	ctx := context.Background()
	_, err := NewSeedService(svc).Seed(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Generate(ctx, GenerateReportInput{ImageID: "img", FailureMode: "Scratches"})
		require.NoError(t, err)
	}
	require.Equal(t, 1, repo.seedCalls)
	require.Len(t, gen.prompts, 3)
	require.Contains(t, gen.prompts[0], "Here is a reference CAPA report for Scratches")
	require.Contains(t, gen.prompts[0], "SEED_Scratches_20260301")
}

func TestGenerateReportMissingFields(t *testing.T) {
	svc, _ := newTestReportService(t, &stubGenerator{output: generatedReport})
	_, err := svc.Generate(context.Background(), GenerateReportInput{FailureMode: "Scratches"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = svc.Generate(context.Background(), GenerateReportInput{ImageID: "x", FailureMode: "  "})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestGenerateReportDefaultsConfidence(t *testing.T) {
	svc, _ := newTestReportService(t, &stubGenerator{output: generatedReport})
	report, err := svc.Generate(context.Background(), GenerateReportInput{ImageID: "x", FailureMode: "Patches"})
	require.NoError(t, err)
	require.Equal(t, "0.0", report.Confidence)
	require.Equal(t, "Patches", report.FailureMode)
}

func TestGenerateReportGeneratorFailure(t *testing.T) {
	svc, repo := newTestReportService(t, &stubGenerator{err: errors.New("throttled")})
	_, err := svc.Generate(context.Background(), GenerateReportInput{ImageID: "x", FailureMode: "Patches"})
	require.EqualError(t, err, "throttled")
	require.Empty(t, repo.items)
}

func TestGenerateReportBadOutput(t *testing.T) {
	svc, repo := newTestReportService(t, &stubGenerator{output: "I cannot help with that."})
	_, err := svc.Generate(context.Background(), GenerateReportInput{ImageID: "x", FailureMode: "Patches"})
	require.Error(t, err)
	require.Empty(t, repo.items)
}

func TestNormalizeConfidence(t *testing.T) {
	cases := map[string]string{
		``:       "0.0",
		`null`:   "0.0",
		`"0.87"`: "0.87",
		`0.87`:   "0.87",
		`1`:      "1",
	}
	for in, want := range cases {
		got, err := NormalizeConfidence(json.RawMessage(in))
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := NormalizeConfidence(json.RawMessage(`{"a":1}`))
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestPurgeExpired(t *testing.T) {
	gen := &stubGenerator{output: generatedReport}
	svc, repo := newTestReportService(t, gen)
	ctx := context.Background()
	_, err := NewSeedService(svc).Seed(ctx)
	require.NoError(t, err)

	old, err := svc.Generate(ctx, GenerateReportInput{ImageID: "old", FailureMode: "Crazing"})
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow().Add(48 * time.Hour) }
	fresh, err := svc.Generate(ctx, GenerateReportInput{ImageID: "fresh", FailureMode: "Crazing"})
	require.NoError(t, err)

	n, err := svc.PurgeExpired(ctx, fixedNow().Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = svc.Get(ctx, old.ReportID)
	require.True(t, appErr.IsNotFound(err))
	_, err = svc.store.Get(ctx, ReportObjectKey(old.ReportID))
	require.True(t, appErr.IsNotFound(err))
	_, err = svc.Get(ctx, fresh.ReportID)
	require.NoError(t, err)

	seed := true
	seeds, err := svc.List(ctx, model.ReportFilter{Seed: &seed})
	require.NoError(t, err)
	require.Len(t, seeds, 6)
	require.Len(t, repo.items, 7)
}

func TestParseReportContent(t *testing.T) {
	content, err := ParseReportContent("Sure! Here it is:\n" + generatedReport + "\nHope that helps.")
	require.NoError(t, err)
	require.Equal(t, "a", content.FiveWhys.Why1)

	_, err = ParseReportContent(`{"five_whys": {}, "fishbone": {}}`)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "8d_report"))

	_, err = ParseReportContent("no json")
	require.Error(t, err)
}

func TestBuildCAPAPrompt(t *testing.T) {
	prompt, err := BuildCAPAPrompt("Inclusion", nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(prompt, "You are a quality engineering expert. Generate a detailed CAPA"))
	require.Contains(t, prompt, `"failure_mode": "Inclusion"`)
	require.Contains(t, prompt, "Return ONLY the JSON object")
}

func TestRenderReport(t *testing.T) {
	reports, err := SeedReports(fixedNow())
	require.NoError(t, err)
	md := RenderReportMarkdown(&reports[0])
	require.Contains(t, md, "# CAPA Report SEED_Crazing_20260301")
	require.Contains(t, md, "## 5 Whys")
	require.Contains(t, md, "| Man |")

	html, err := RenderReportHTML(&reports[0])
	require.NoError(t, err)
	require.Contains(t, html, "<h1>CAPA Report SEED_Crazing_20260301</h1>")
	require.Contains(t, html, "<h2>8D</h2>")
	require.Contains(t, html, "<table>")
}

func TestSeedReports(t *testing.T) {
	reports, err := SeedReports(fixedNow())
	require.NoError(t, err)
	require.Len(t, reports, 6)
	modes := make([]string, 0, len(reports))
	for _, r := range reports {
		modes = append(modes, r.FailureMode)
		require.True(t, r.IsSeed)
		require.Equal(t, "1.0", r.Confidence)
		require.Equal(t, "synthetic_"+strings.ToLower(r.FailureMode), r.ImageID)
		require.NotEmpty(t, r.FiveWhys.Why1)
		require.NotEmpty(t, r.EightD.D1Team)
	}
	require.Equal(t, testClasses, modes)
}
