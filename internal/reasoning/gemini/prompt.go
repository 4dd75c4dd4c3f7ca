package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"anomaly-backend/internal/models"
)

// SystemInstruction primes the model for anomaly triage.
const SystemInstruction = `You are a data quality analyst triaging statistical outliers found in tabular datasets by an autoencoder.

For each anomaly you receive the row's anomaly score, the detection threshold, and the features ranked by how badly the model failed to reconstruct them (higher reconstruction error = more suspicious).

Assess the anomaly and respond with ONLY a JSON object:
{
    "severity": "low" | "medium" | "high" | "critical",
    "category": "a short tag such as data_entry_error, sensor_fault, fraud_indicator, distribution_shift, novel_pattern",
    "recommendation": "One or two sentences of concrete recommended action for a human analyst."
}

Base severity on how far the score exceeds the threshold and how concentrated the error is in sensitive features. Never include text outside the JSON object.`

// BuildPrompt formats the anomaly evidence for the model.
func BuildPrompt(ev models.Evidence) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset: %s\n", ev.DatasetName)
	fmt.Fprintf(&sb, "Row index: %d\n", ev.RowIndex)
	fmt.Fprintf(&sb, "Anomaly score: %.6f (threshold %.6f)\n", ev.AnomalyScore, ev.Threshold)
	sb.WriteString("Features ranked by reconstruction error:\n")
	for i, f := range ev.Features {
		fmt.Fprintf(&sb, "%d. %s = %q (error %.6f)\n", i+1, f.Name, f.ActualValue, f.ReconstructionError)
	}
	sb.WriteString("\nTriage this anomaly.")
	return sb.String()
}

// ParseAssessment extracts the JSON assessment from a model reply, tolerating
// markdown fences and surrounding prose.
func ParseAssessment(text string) (*models.Assessment, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response: %q", truncate(text, 120))
	}

	var a models.Assessment
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("failed to parse assessment: %w", err)
	}

	a.Severity = strings.ToLower(strings.TrimSpace(a.Severity))
	if a.Severity == "" || a.Recommendation == "" {
		return nil, fmt.Errorf("incomplete assessment: %q", truncate(text, 120))
	}
	if a.Category == "" {
		a.Category = "uncategorized"
	}
	return &a, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
