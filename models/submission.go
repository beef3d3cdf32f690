package models

import (
	"math"
	"time"
)

type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "pending"
	SubmissionScored  SubmissionStatus = "scored"
	SubmissionError   SubmissionStatus = "error"
)

type TestResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Output   string `json:"output,omitempty"`
	Expected string `json:"expected,omitempty"`
	TimeMS   int64  `json:"time_ms"`
}

// Submission фиксирует одну отправку кода. После оценки не изменяется;
// новая отправка того же участника вытесняет её из зачёта.
type Submission struct {
	ID          string           `json:"id"`
	UserID      int              `json:"user_id"`
	Code        string           `json:"-"`
	Language    string           `json:"language"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Results     []TestResult     `json:"results,omitempty"`
	PassedTests int              `json:"passed_tests"`
	TotalTests  int              `json:"total_tests"`
	Score       int              `json:"score"`
	Status      SubmissionStatus `json:"status"`
}

// ScoreFor computes the 0-100 score from test outcomes.
func ScoreFor(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}
