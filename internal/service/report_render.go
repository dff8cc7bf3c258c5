package service

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/xxxsen/capa/internal/model"
)

var reportMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func RenderReportMarkdown(r *model.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# CAPA Report %s\n\n", r.ReportID)
	fmt.Fprintf(&sb, "- **Failure mode:** %s\n", r.FailureMode)
	fmt.Fprintf(&sb, "- **Image:** %s\n", r.ImageID)
	fmt.Fprintf(&sb, "- **Confidence:** %s\n", r.Confidence)
	fmt.Fprintf(&sb, "- **Created:** %s\n", r.CreatedAt)
	if r.IsSeed {
		sb.WriteString("- **Reference report**\n")
	}

	sb.WriteString("\n## 5 Whys\n\n")
	for i, why := range []string{r.FiveWhys.Why1, r.FiveWhys.Why2, r.FiveWhys.Why3, r.FiveWhys.Why4, r.FiveWhys.Why5} {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, why)
	}

	sb.WriteString("\n## Fishbone\n\n| Category | Cause |\n| --- | --- |\n")
	for _, row := range [][2]string{
		{"Man", r.Fishbone.Man},
		{"Machine", r.Fishbone.Machine},
		{"Material", r.Fishbone.Material},
		{"Method", r.Fishbone.Method},
		{"Measurement", r.Fishbone.Measurement},
		{"Environment", r.Fishbone.Environment},
	} {
		fmt.Fprintf(&sb, "| %s | %s |\n", row[0], escapeCell(row[1]))
	}

	sb.WriteString("\n## 8D\n\n")
	for _, row := range [][2]string{
		{"D1 Team", r.EightD.D1Team},
		{"D2 Problem", r.EightD.D2Problem},
		{"D3 Interim containment", r.EightD.D3Interim},
		{"D4 Root cause", r.EightD.D4RootCause},
		{"D5 Corrective action", r.EightD.D5Corrective},
		{"D6 Implementation", r.EightD.D6Implementation},
		{"D7 Prevention", r.EightD.D7Prevention},
		{"D8 Recognition", r.EightD.D8Recognition},
	} {
		fmt.Fprintf(&sb, "### %s\n\n%s\n\n", row[0], row[1])
	}
	return sb.String()
}

func RenderReportHTML(r *model.Report) (string, error) {
	var buf bytes.Buffer
	if err := reportMarkdown.Convert([]byte(RenderReportMarkdown(r)), &buf); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
