package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anomaly-backend/internal/models"
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(models.Evidence{
		DatasetName:  "payments.csv",
		RowIndex:     42,
		AnomalyScore: 7.5,
		Threshold:    2.0,
		Features: []models.FeatureEvidence{
			{Name: "amount", ActualValue: "99999", ReconstructionError: 6.1},
			{Name: "country", ActualValue: "ZZ", ReconstructionError: 1.4},
		},
	})

	assert.Contains(t, prompt, "payments.csv")
	assert.Contains(t, prompt, "Row index: 42")
	assert.Contains(t, prompt, "threshold 2.000000")
	assert.Contains(t, prompt, `1. amount = "99999"`)
	assert.Contains(t, prompt, `2. country = "ZZ"`)
}

func TestParseAssessment(t *testing.T) {
	a, err := ParseAssessment(`{"severity":"HIGH","category":"fraud_indicator","recommendation":"Escalate to the fraud team."}`)
	require.NoError(t, err)
	assert.Equal(t, "high", a.Severity)
	assert.Equal(t, "fraud_indicator", a.Category)
	assert.Equal(t, "Escalate to the fraud team.", a.Recommendation)
}

func TestParseAssessmentToleratesFencesAndProse(t *testing.T) {
	a, err := ParseAssessment("Here is my assessment:\n```json\n{\"severity\": \"low\", \"recommendation\": \"Nothing to do.\"}\n```\nHope that helps!")
	require.NoError(t, err)
	assert.Equal(t, "low", a.Severity)
	assert.Equal(t, "uncategorized", a.Category)
}

func TestParseAssessmentRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no json", "I cannot assess this."},
		{"missing severity", `{"recommendation":"Do something."}`},
		{"missing recommendation", `{"severity":"low"}`},
		{"broken json", `{"severity": "low",`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAssessment(tt.text)
			assert.Error(t, err)
		})
	}
}
