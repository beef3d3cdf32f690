package models

import "time"

// Difficulty соответствует ENUM problem_difficulty в БД.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Hidden   bool   `json:"hidden,omitempty"`
}

// ExecutionLimits передаются оракулу вместе с кодом.
type ExecutionLimits struct {
	TimeLimitMS   int `json:"time_limit_ms"`
	MemoryLimitKB int `json:"memory_limit_kb"`
}

type Problem struct {
	ID          int             `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Difficulty  Difficulty      `json:"difficulty"`
	TestCases   []TestCase      `json:"test_cases,omitempty"`
	Limits      ExecutionLimits `json:"limits"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PublicView strips hidden test case data before the problem is pushed to clients.
func (p *Problem) PublicView() *Problem {
	visible := make([]TestCase, 0, len(p.TestCases))
	for _, tc := range p.TestCases {
		if !tc.Hidden {
			visible = append(visible, tc)
		}
	}
	cp := *p
	cp.TestCases = visible
	return &cp
}
