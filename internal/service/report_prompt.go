package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xxxsen/capa/internal/model"
)

const capaPromptTemplate = `You are a quality engineering expert. Generate a detailed CAPA (Corrective and Preventive Action) report for a %[1]s defect.

%[2]s

Generate a comprehensive report with the following structure (return ONLY valid JSON):

{
  "failure_mode": "%[1]s",
  "five_whys": {
    "why_1": "...",
    "why_2": "...",
    "why_3": "...",
    "why_4": "...",
    "why_5": "..."
  },
  "fishbone": {
    "man": "...",
    "machine": "...",
    "material": "...",
    "method": "...",
    "measurement": "...",
    "environment": "..."
  },
  "8d_report": {
    "d1_team": "...",
    "d2_problem": "...",
    "d3_interim": "...",
    "d4_root_cause": "...",
    "d5_corrective": "...",
    "d6_implementation": "...",
    "d7_prevention": "...",
    "d8_recognition": "..."
  }
}

Generate realistic, detailed content for each field. Return ONLY the JSON object, no additional text.`

// BuildCAPAPrompt renders the report prompt, embedding the reference report
// when one is available.
func BuildCAPAPrompt(failureMode string, reference *model.Report) (string, error) {
	refBlock := ""
	if reference != nil {
		data, err := json.MarshalIndent(reference, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode reference report: %w", err)
		}
		refBlock = fmt.Sprintf("\n\nHere is a reference CAPA report for %s:\n%s", failureMode, data)
	}
	return fmt.Sprintf(capaPromptTemplate, failureMode, refBlock), nil
}

var requiredSections = []string{"five_whys", "fishbone", "8d_report"}

// ParseReportContent extracts the JSON object from an LLM reply, tolerating
// code fences and surrounding prose.
func ParseReportContent(output string) (*model.ReportContent, error) {
	clean := strings.TrimSpace(output)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("parse report: no json object in model output")
	}
	clean = clean[start : end+1]

	var sections map[string]json.RawMessage
	if err := json.Unmarshal([]byte(clean), &sections); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	for _, key := range requiredSections {
		if raw, ok := sections[key]; !ok || string(raw) == "null" {
			return nil, fmt.Errorf("parse report: missing %s", key)
		}
	}
	var content model.ReportContent
	if err := json.Unmarshal([]byte(clean), &content); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &content, nil
}
