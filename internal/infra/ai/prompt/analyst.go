package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a senior smart contract security reviewer for Soroban contracts compiled to WebAssembly. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- Use lowercase severity values: critical, high, medium, low, info.
- counts.total must equal counts.critical + counts.high + counts.medium + counts.low.
- recommendations holds one entry per distinct rule_id in the findings, in the order given.
- Base every recommendation on the findings and metrics provided. Do not invent findings.
- When budget_exceeded is 1, include one recommendation with rule_id "resource-budget".

Schema (example with empty values):
{
  "contract_id": "<string>",
  "version": "<string>",
  "score": 0,
  "grade": "<A|B|C|D|F>",
  "counts": {"critical": 0, "high": 0, "medium": 0, "low": 0, "total": 0},
  "recommendations": [
    {
      "rule_id": "<string>",
      "severity": "<critical|high|medium|low|info>",
      "summary": "<string>",
      "recommendation": "<string>"
    }
  ],
  "advice": "<string>"
}`
}

// scanInput is the compact view of a result sent to the model.
type scanInput struct {
	ContractID string             `json:"contract_id"`
	Version    string             `json:"version"`
	Score      float64            `json:"score"`
	Grade      string             `json:"grade"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Findings   []inputFinding     `json:"findings"`
	Metrics    map[string]float64 `json:"metrics"`
}

type inputFinding struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Category string `json:"category"`
	Function string `json:"function,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Message  string `json:"message"`
}

// GetUserPrompt builds the user message around a scan result.
func GetUserPrompt(res *scans.ScanResult) string {
	in := scanInput{
		ContractID: res.ContractID,
		Version:    res.Version,
		Score:      res.Score.Value,
		Grade:      res.Score.Grade,
		Breakdown:  res.Score.Breakdown,
		Metrics:    map[string]float64{},
	}
	for _, f := range res.Findings {
		if f.Kind != scans.KindViolation {
			continue
		}
		in.Findings = append(in.Findings, inputFinding{
			RuleID:   f.RuleID,
			Severity: string(f.Severity),
			Category: f.Category,
			Function: f.Location.Function,
			Symbol:   f.Location.Symbol,
			Message:  f.Message,
		})
	}
	for _, m := range res.Metrics {
		if m.Deterministic {
			in.Metrics[m.Name] = m.Value
		}
	}
	b, _ := json.Marshal(in)
	return fmt.Sprintf("Review this scan result and respond with the JSON per schema.\n%s", b)
}

// Counts tallies recommendations by severity; info is not counted.
type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

type Recommendation struct {
	RuleID         string `json:"rule_id"`
	Severity       string `json:"severity"`
	Summary        string `json:"summary"`
	Recommendation string `json:"recommendation"`
}

// Advice matches the schema used by the system prompt.
type Advice struct {
	ContractID      string           `json:"contract_id"`
	Version         string           `json:"version"`
	Score           float64          `json:"score"`
	Grade           string           `json:"grade"`
	Counts          Counts           `json:"counts"`
	Recommendations []Recommendation `json:"recommendations"`
	Advice          string           `json:"advice"`
}

// Parse checks that raw is an Advice document.
func Parse(raw string) (*Advice, error) {
	var a Advice
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("advice is not valid JSON: %w", err)
	}
	return &a, nil
}
