package models

import "time"

// RoomStatus представляет статусы комнаты. Переходы монотонны:
// waiting -> ready -> in_progress -> completed; cancelled достижим из
// любого нетерминального статуса.
type RoomStatus string

const (
	RoomStatusWaiting    RoomStatus = "waiting"
	RoomStatusReady      RoomStatus = "ready"
	RoomStatusInProgress RoomStatus = "in_progress"
	RoomStatusCompleted  RoomStatus = "completed"
	RoomStatusCancelled  RoomStatus = "cancelled"
)

const (
	MinParticipants     = 2
	MaxParticipantsCap  = 10
	MinTimeLimitMinutes = 5
	MaxTimeLimitMinutes = 60
)

type RoomSettings struct {
	MaxParticipants  int        `json:"max_participants"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	Difficulty       Difficulty `json:"difficulty"`
}

func (s RoomSettings) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitMinutes) * time.Minute
}

// Participant is the per-user slice of a room. Created on join, mutated on
// ready-toggle/code-update/submission, removed on leave.
type Participant struct {
	UserID      int       `json:"user_id"`
	Nickname    string    `json:"nickname"`
	JoinedAt    time.Time `json:"joined_at"`
	Ready       bool      `json:"ready"`
	CodeBuffer  string    `json:"-"`
	Latest      *Submission   `json:"latest_submission,omitempty"`
	Submissions []*Submission `json:"-"`
}

func (p *Participant) SubmissionCount() int { return len(p.Submissions) }

type ChatMessage struct {
	UserID   int       `json:"user_id"`
	Nickname string    `json:"nickname"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sent_at"`
}

// ParticipantResult is the sealed per-participant snapshot written into the
// battle block when the room completes.
type ParticipantResult struct {
	UserID          int    `json:"user_id"`
	Nickname        string `json:"nickname"`
	Score           int    `json:"score"`
	TimeSpentMS     int64  `json:"time_spent_ms"`
	PassedTests     int    `json:"passed_tests"`
	TotalTests      int    `json:"total_tests"`
	SubmissionCount int    `json:"submission_count"`
	Code            string `json:"-"`
	Language        string `json:"language,omitempty"`
}

// BattleState появляется при переходе в in_progress и запечатывается при
// переходе в completed.
type BattleState struct {
	Problem   *Problem            `json:"problem,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	EndedAt   time.Time           `json:"ended_at,omitempty"`
	Duration  time.Duration       `json:"-"`
	WinnerID  *int                `json:"winner_id,omitempty"`
	Results   []ParticipantResult `json:"results,omitempty"`
}

// Room is the live aggregate for one battle-in-formation or in-progress.
// It is ephemeral: once settled, only the Match record survives.
type Room struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	HostID       int            `json:"host_id"`
	Private      bool           `json:"private"`
	PasswordHash string         `json:"-"`
	Settings     RoomSettings   `json:"settings"`
	Status       RoomStatus     `json:"status"`
	Participants []*Participant `json:"participants"`
	Spectators   []int          `json:"spectators,omitempty"`
	Chat         []ChatMessage  `json:"-"`
	Battle       *BattleState   `json:"battle,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (r *Room) Participant(userID int) *Participant {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) IsSpectator(userID int) bool {
	for _, id := range r.Spectators {
		if id == userID {
			return true
		}
	}
	return false
}

// QuorumReached reports whether the readiness quorum holds: at least two
// participants and every one of them ready.
func (r *Room) QuorumReached() bool {
	if len(r.Participants) < MinParticipants {
		return false
	}
	for _, p := range r.Participants {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Room) Terminal() bool {
	return r.Status == RoomStatusCompleted || r.Status == RoomStatusCancelled
}
