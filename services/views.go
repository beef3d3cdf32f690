package services

import (
	"time"

	"github.com/Dosada05/code-arena/models"
)

// RoomView — безопасный снимок комнаты для клиентов: без хэшей, скрытых
// тестов и чужого кода.
type RoomView struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	HostID       int                 `json:"host_id"`
	Private      bool                `json:"private"`
	Settings     models.RoomSettings `json:"settings"`
	Status       models.RoomStatus   `json:"status"`
	Participants []ParticipantView   `json:"participants"`
	Spectators   []int               `json:"spectators,omitempty"`
	Problem      *models.Problem     `json:"problem,omitempty"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

type ParticipantView struct {
	UserID          int       `json:"user_id"`
	Nickname        string    `json:"nickname"`
	JoinedAt        time.Time `json:"joined_at"`
	Ready           bool      `json:"ready"`
	Score           int       `json:"score"`
	PassedTests     int       `json:"passed_tests"`
	TotalTests      int       `json:"total_tests"`
	SubmissionCount int       `json:"submission_count"`
}

// BattleStatusView отвечает на battle:status.
type BattleStatusView struct {
	Status        models.RoomStatus   `json:"status"`
	TimeRemaining int                 `json:"time_remaining_seconds"`
	Participants  []ParticipantView   `json:"participants"`
	Problem       *models.Problem     `json:"problem,omitempty"`
	Settings      models.RoomSettings `json:"settings"`
}

// viewLocked строит снимок; вызывающий держит st.mu.
func (s *RoomService) viewLocked(room *models.Room) *RoomView {
	view := &RoomView{
		ID:           room.ID,
		Name:         room.Name,
		HostID:       room.HostID,
		Private:      room.Private,
		Settings:     room.Settings,
		Status:       room.Status,
		Participants: participantViews(room.Participants),
		Spectators:   append([]int(nil), room.Spectators...),
		CreatedAt:    room.CreatedAt,
	}
	if room.Battle != nil {
		if room.Battle.Problem != nil {
			view.Problem = room.Battle.Problem.PublicView()
		}
		if !room.Battle.StartedAt.IsZero() {
			startedAt := room.Battle.StartedAt
			view.StartedAt = &startedAt
		}
	}
	return view
}

func participantViews(participants []*models.Participant) []ParticipantView {
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		view := ParticipantView{
			UserID:          p.UserID,
			Nickname:        p.Nickname,
			JoinedAt:        p.JoinedAt,
			Ready:           p.Ready,
			SubmissionCount: p.SubmissionCount(),
		}
		if p.Latest != nil {
			view.Score = p.Latest.Score
			view.PassedTests = p.Latest.PassedTests
			view.TotalTests = p.Latest.TotalTests
		}
		views = append(views, view)
	}
	return views
}
