package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Dosada05/code-arena/models"
	"github.com/Dosada05/code-arena/realtime"
	"github.com/google/uuid"
)

// Submit оценивает отправку кода. Вызов оракула идёт вне блокировки комнаты:
// взять блокировку — проверить и пометить pending — отпустить — дождаться
// оракула — взять снова и закоммитить, перепроверив, что битва ещё идёт и
// участник на месте.
func (s *RoomService) Submit(ctx context.Context, roomID string, userID int, code, language string) (*models.Submission, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrValidationFailed)
	}
	if language == "" {
		return nil, fmt.Errorf("%w: language is required", ErrValidationFailed)
	}

	st, err := s.state(roomID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	room := st.room
	p := room.Participant(userID)
	if p == nil {
		st.mu.Unlock()
		return nil, ErrUnauthorized
	}
	if room.Status != models.RoomStatusInProgress {
		st.mu.Unlock()
		return nil, ErrInvalidState
	}
	if s.remainingLocked(room) <= 0 {
		// Отказ не трогает состояние отправок.
		st.mu.Unlock()
		return nil, ErrBattleExpired
	}

	sub := &models.Submission{
		ID:          uuid.NewString(),
		UserID:      userID,
		Code:        code,
		Language:    language,
		SubmittedAt: s.now(),
		Status:      models.SubmissionPending,
	}
	p.CodeBuffer = code
	problem := room.Battle.Problem
	limits := problem.Limits
	testCases := problem.TestCases
	st.mu.Unlock()

	s.hub.SendToUser(roomID, userID, realtime.Event{
		Type:    "submission:processing",
		RoomID:  roomID,
		Payload: map[string]interface{}{"submission_id": sub.ID},
	})

	results, oracleErr := s.oracle.Execute(ctx, code, language, testCases, limits)

	st.mu.Lock()
	room = st.room
	p = room.Participant(userID)
	if room.Status != models.RoomStatusInProgress || p == nil {
		// Битва закончилась или участник вышел, пока оракул работал:
		// результат в зачёт не идёт.
		st.mu.Unlock()
		s.logger.Info("submission result discarded: room no longer accepts it",
			slog.String("room_id", roomID), slog.Int("user_id", userID))
		return nil, ErrInvalidState
	}

	if oracleErr != nil {
		sub.Status = models.SubmissionError
		sub.Score = 0
		p.Submissions = append(p.Submissions, sub)
		st.mu.Unlock()

		s.logger.Error("scoring oracle failed",
			slog.String("room_id", roomID),
			slog.Int("user_id", userID),
			slog.Any("error", oracleErr))
		s.hub.SendToUser(roomID, userID, realtime.Event{
			Type:    "submission:result",
			RoomID:  roomID,
			Payload: sub,
		})
		return sub, fmt.Errorf("%w: %v", ErrOracle, oracleErr)
	}

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	sub.Results = results
	sub.PassedTests = passed
	sub.TotalTests = len(results)
	sub.Score = models.ScoreFor(passed, len(results))
	sub.Status = models.SubmissionScored

	// В зачёт идёт только последняя отправка; история сохраняется целиком.
	p.Submissions = append(p.Submissions, sub)
	p.Latest = sub

	s.maybePerfectScoreLocked(st, sub)
	st.mu.Unlock()

	s.hub.SendToUser(roomID, userID, realtime.Event{
		Type:    "submission:result",
		RoomID:  roomID,
		Payload: sub,
	})
	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:   "battle:submission",
		RoomID: roomID,
		Payload: map[string]interface{}{
			"user_id":      userID,
			"score":        sub.Score,
			"passed_tests": sub.PassedTests,
			"total_tests":  sub.TotalTests,
		},
	})
	return sub, nil
}
