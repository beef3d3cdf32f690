package models

import "time"

type MatchOutcome string

const (
	OutcomeWin  MatchOutcome = "win"
	OutcomeLoss MatchOutcome = "loss"
	OutcomeDraw MatchOutcome = "draw"
)

type MatchParticipant struct {
	ID              int          `json:"id"`
	MatchID         int          `json:"match_id"`
	UserID          int          `json:"user_id"`
	Nickname        string       `json:"nickname"`
	Rank            int          `json:"rank"`
	Score           int          `json:"score"`
	TimeSpentMS     int64        `json:"time_spent_ms"`
	PassedTests     int          `json:"passed_tests"`
	TotalTests      int          `json:"total_tests"`
	SubmissionCount int          `json:"submission_count"`
	Code            string       `json:"-"`
	Language        string       `json:"language,omitempty"`
	Outcome         MatchOutcome `json:"outcome"`
	RatingDelta     int          `json:"rating_delta"`
	RatingAfter     int          `json:"rating_after"`
}

// Match — неизменяемая запись завершённой битвы. Комната эфемерна и после
// расчёта может быть удалена; Match — нет.
type Match struct {
	ID              int                `json:"id"`
	Key             string             `json:"key"`
	RoomID          string             `json:"room_id"`
	ProblemID       int                `json:"problem_id"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         time.Time          `json:"ended_at"`
	DurationSeconds int                `json:"duration_seconds"`
	WinnerID        *int               `json:"winner_id,omitempty"`
	Participants    []MatchParticipant `json:"participants"`
	MeanScore       float64            `json:"mean_score"`
	MeanTimeMS      int64              `json:"mean_time_ms"`
	Languages       map[string]int     `json:"languages"`
	CreatedAt       time.Time          `json:"created_at"`
}
