package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Dosada05/code-arena/models"
	"github.com/Dosada05/code-arena/realtime"
)

// startBattle запускает битву после истечения отсчёта готовности. Задача
// берётся из каталога вне блокировки комнаты, затем предусловия проверяются
// заново: если они уже не выполняются, это логируемый no-op, а не ошибка —
// гонка со снятием готовности или уходом участника легальна.
func (s *RoomService) startBattle(roomID string, gen uint64) {
	st, err := s.state(roomID)
	if err != nil {
		return
	}

	st.mu.Lock()
	room := st.room
	if st.timerGen != gen || room.Status != models.RoomStatusReady || !room.QuorumReached() {
		st.mu.Unlock()
		s.logger.Info("battle start skipped: preconditions no longer hold",
			slog.String("room_id", roomID), slog.String("status", string(room.Status)))
		return
	}
	difficulty := room.Settings.Difficulty
	userIDs := make([]int, 0, len(room.Participants))
	for _, p := range room.Participants {
		userIDs = append(userIDs, p.UserID)
	}
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	problem, err := s.problems.GetRandomByDifficulty(ctx, difficulty, s.seenProblemIDs(userIDs))
	if err != nil {
		s.logger.Error("failed to pick a problem, battle not started",
			slog.String("room_id", roomID),
			slog.String("difficulty", string(difficulty)),
			slog.Any("error", err))
		st.mu.Lock()
		if st.timerGen == gen && st.room.Status == models.RoomStatusReady {
			st.room.Status = models.RoomStatusWaiting
			for _, p := range st.room.Participants {
				p.Ready = false
			}
		}
		st.mu.Unlock()
		s.hub.BroadcastToRoom(roomID, realtime.Event{
			Type:    "error",
			RoomID:  roomID,
			Payload: map[string]interface{}{"message": "failed to assign a problem, please ready up again"},
		})
		return
	}

	st.mu.Lock()
	room = st.room
	if st.timerGen != gen || room.Status != models.RoomStatusReady || !room.QuorumReached() {
		st.mu.Unlock()
		s.logger.Info("battle start skipped after problem fetch: preconditions no longer hold",
			slog.String("room_id", roomID))
		return
	}

	now := s.now()
	room.Status = models.RoomStatusInProgress
	room.Battle = &models.BattleState{
		Problem:   problem,
		StartedAt: now,
	}

	st.timerGen++
	hardGen := st.timerGen
	timeLimit := room.Settings.TimeLimit()
	st.hardEnd = s.timerAfter(timeLimit, func() {
		s.hardTimeoutFired(roomID, hardGen)
	})

	view := s.viewLocked(room)
	st.mu.Unlock()

	s.rememberProblem(userIDs, problem.ID)
	s.logger.Info("battle started",
		slog.String("room_id", roomID),
		slog.Int("problem_id", problem.ID),
		slog.Int("participants", len(userIDs)),
		slog.Duration("time_limit", timeLimit))

	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:   "battle:start",
		RoomID: roomID,
		Payload: map[string]interface{}{
			"problem":    problem.PublicView(),
			"settings":   view.Settings,
			"started_at": now,
		},
	})
}

// remainingLocked считает остаток времени битвы; вызывающий держит st.mu.
func (s *RoomService) remainingLocked(room *models.Room) time.Duration {
	if room.Battle == nil || room.Battle.StartedAt.IsZero() {
		return 0
	}
	return room.Settings.TimeLimit() - s.now().Sub(room.Battle.StartedAt)
}

// hardTimeoutFired — жёсткий дедлайн битвы. Он всегда вытесняет отложенный
// grace-таймер: endBattle идемпотентен по статусу комнаты.
func (s *RoomService) hardTimeoutFired(roomID string, gen uint64) {
	st, err := s.state(roomID)
	if err != nil {
		return
	}

	st.mu.Lock()
	if st.timerGen != gen || st.room.Status != models.RoomStatusInProgress {
		st.mu.Unlock()
		return
	}
	// Момент конца фиксируем по дедлайну, а не по времени срабатывания
	// таймера: битва длится ровно timeLimit.
	endedAt := st.room.Battle.StartedAt.Add(st.room.Settings.TimeLimit())
	s.endBattleLocked(st, endedAt, "timeout")
}

// graceWindowFired завершает битву по окну досрочного выхода.
func (s *RoomService) graceWindowFired(roomID string, gen uint64) {
	st, err := s.state(roomID)
	if err != nil {
		return
	}

	st.mu.Lock()
	if st.timerGen != gen || st.room.Status != models.RoomStatusInProgress {
		st.mu.Unlock()
		return
	}
	s.endBattleLocked(st, s.now(), "perfect_score")
}

// maybePerfectScoreLocked взводит десятисекундное окно завершения после
// стобалльной отправки. Повторные стобалльные отправки окно не сокращают.
// Вызывающий держит st.mu.
func (s *RoomService) maybePerfectScoreLocked(st *roomState, sub *models.Submission) {
	room := st.room
	if sub.Score < 100 || st.graceEnd != nil {
		return
	}
	elapsed := sub.SubmittedAt.Sub(room.Battle.StartedAt)
	if elapsed < s.minEarlyElapsed {
		return
	}
	gen := st.timerGen
	roomID := room.ID
	st.graceEnd = s.timerAfter(s.endGraceWindow, func() {
		s.graceWindowFired(roomID, gen)
	})
	s.logger.Info("early termination scheduled",
		slog.String("room_id", roomID),
		slog.Int("user_id", sub.UserID),
		slog.Duration("grace", s.endGraceWindow))
}

// ForceEnd завершает битву досрочно. Доступно только хосту.
func (s *RoomService) ForceEnd(ctx context.Context, roomID string, userID int) error {
	st, err := s.state(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	room := st.room
	if room.HostID != userID {
		st.mu.Unlock()
		return ErrHostOnly
	}
	if room.Status != models.RoomStatusInProgress {
		st.mu.Unlock()
		return ErrInvalidState
	}
	s.endBattleLocked(st, s.now(), "force_end")
	return nil
}

// Cancel допустим только из waiting/ready: комната уничтожается, матч не
// создаётся.
func (s *RoomService) Cancel(ctx context.Context, roomID string, userID int) error {
	st, err := s.state(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	room := st.room
	if room.HostID != userID {
		st.mu.Unlock()
		return ErrHostOnly
	}
	if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusReady {
		st.mu.Unlock()
		return ErrInvalidState
	}
	room.Status = models.RoomStatusCancelled
	s.stopTimersLocked(st)
	st.mu.Unlock()

	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:   "room:cancelled",
		RoomID: roomID,
	})
	s.destroyRoom(st)
	s.logger.Info("room cancelled", slog.String("room_id", roomID), slog.Int("by", userID))
	return nil
}

// Status отвечает на battle:status.
func (s *RoomService) Status(roomID string) (*BattleStatusView, error) {
	st, err := s.state(roomID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	room := st.room
	view := &BattleStatusView{
		Status:       room.Status,
		Participants: participantViews(room.Participants),
		Settings:     room.Settings,
	}
	if room.Status == models.RoomStatusInProgress {
		remaining := s.remainingLocked(room)
		if remaining < 0 {
			remaining = 0
		}
		view.TimeRemaining = int(remaining.Seconds())
		if room.Battle.Problem != nil {
			view.Problem = room.Battle.Problem.PublicView()
		}
	}
	return view, nil
}

// endBattleLocked — единственная точка перехода in_progress -> completed.
// Запечатывает тайминг-блок, снимает таймеры и передаёт снимок в расчёт.
// Повторный вызов для той же комнаты — no-op (ровно один Match на битву).
// Вызывающий держит st.mu; блокировка освобождается внутри.
func (s *RoomService) endBattleLocked(st *roomState, endedAt time.Time, reason string) {
	room := st.room
	if room.Status != models.RoomStatusInProgress {
		st.mu.Unlock()
		return
	}
	room.Status = models.RoomStatusCompleted
	s.stopTimersLocked(st)

	battle := room.Battle
	battle.EndedAt = endedAt
	battle.Duration = endedAt.Sub(battle.StartedAt)

	results := make([]models.ParticipantResult, 0, len(room.Participants))
	for _, p := range room.Participants {
		result := models.ParticipantResult{
			UserID:          p.UserID,
			Nickname:        p.Nickname,
			SubmissionCount: p.SubmissionCount(),
			TimeSpentMS:     battle.Duration.Milliseconds(),
			Code:            p.CodeBuffer,
		}
		if p.Latest != nil {
			result.Score = p.Latest.Score
			result.PassedTests = p.Latest.PassedTests
			result.TotalTests = p.Latest.TotalTests
			result.TimeSpentMS = p.Latest.SubmittedAt.Sub(battle.StartedAt).Milliseconds()
			result.Code = p.Latest.Code
			result.Language = p.Latest.Language
		}
		results = append(results, result)
	}
	battle.Results = results

	input := SettlementInput{
		RoomID:    room.ID,
		ProblemID: battle.Problem.ID,
		StartedAt: battle.StartedAt,
		EndedAt:   endedAt,
		Duration:  battle.Duration,
		Results:   results,
	}
	st.mu.Unlock()

	s.logger.Info("battle ended",
		slog.String("room_id", input.RoomID),
		slog.String("reason", reason),
		slog.Duration("duration", input.Duration))

	go s.finishSettlement(st, input)
}

// finishSettlement прогоняет расчёт и рассылает battle:ended. Комната
// снимается с учёта после рассылки: живёт только Match.
func (s *RoomService) finishSettlement(st *roomState, input SettlementInput) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	match, err := s.settlement.Settle(ctx, input)

	st.mu.Lock()
	room := st.room
	if room.Battle != nil && match != nil {
		room.Battle.WinnerID = match.WinnerID
	}
	st.mu.Unlock()

	payload := map[string]interface{}{
		"duration_seconds": int(input.Duration.Seconds()),
	}
	if match != nil {
		payload["results"] = match.Participants
		payload["winner_id"] = match.WinnerID
		payload["match_id"] = match.ID
	} else {
		payload["results"] = input.Results
	}
	if err != nil {
		// Расчёт уже поставлен на асинхронный повтор; клиентам отдаём
		// результаты без идентификатора матча.
		s.logger.Error("settlement failed", slog.String("room_id", input.RoomID), slog.Any("error", err))
	}

	s.hub.BroadcastToRoom(input.RoomID, realtime.Event{
		Type:    "battle:ended",
		RoomID:  input.RoomID,
		Payload: payload,
	})
	s.destroyRoom(st)
}
