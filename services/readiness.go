package services

import (
	"context"
	"log/slog"

	"github.com/Dosada05/code-arena/models"
	"github.com/Dosada05/code-arena/realtime"
)

// SetReady переключает флаг готовности. При кворуме (>=2 участников, все
// готовы) комната переходит в ready и взводится отсчёт перед стартом битвы.
// Снятие готовности во время отсчёта отменяет старт немедленно; колбэк
// таймера в любом случае перепроверяет кворум на истечении.
func (s *RoomService) SetReady(ctx context.Context, roomID string, userID int, ready bool) error {
	st, err := s.state(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	room := st.room
	if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusReady {
		st.mu.Unlock()
		return ErrInvalidState
	}
	p := room.Participant(userID)
	if p == nil {
		st.mu.Unlock()
		return ErrNotParticipant
	}
	p.Ready = ready

	quorum := room.QuorumReached()
	armed := false
	switch {
	case room.Status == models.RoomStatusWaiting && quorum:
		room.Status = models.RoomStatusReady
		s.armReadyCountdownLocked(st)
		armed = true
	case room.Status == models.RoomStatusReady && !quorum:
		s.cancelReadyCountdownLocked(st)
		room.Status = models.RoomStatusWaiting
	}
	st.mu.Unlock()

	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:    "room:ready-changed",
		RoomID:  roomID,
		Payload: map[string]interface{}{"user_id": userID, "ready": ready},
	})
	if armed {
		s.hub.BroadcastToRoom(roomID, realtime.Event{
			Type:    "room:all-ready",
			RoomID:  roomID,
			Payload: map[string]interface{}{"countdown_seconds": int(s.readyCountdown.Seconds())},
		})
	}
	return nil
}

// ToggleReady инвертирует флаг готовности участника.
func (s *RoomService) ToggleReady(ctx context.Context, roomID string, userID int) (bool, error) {
	st, err := s.state(roomID)
	if err != nil {
		return false, err
	}

	st.mu.Lock()
	p := st.room.Participant(userID)
	if p == nil {
		st.mu.Unlock()
		return false, ErrNotParticipant
	}
	next := !p.Ready
	st.mu.Unlock()

	return next, s.SetReady(ctx, roomID, userID, next)
}

// armReadyCountdownLocked взводит пятисекундную паузу перед стартом.
// Вызывающий держит st.mu.
func (s *RoomService) armReadyCountdownLocked(st *roomState) {
	if st.countdown != nil {
		st.countdown.Stop()
	}
	st.timerGen++
	gen := st.timerGen
	roomID := st.room.ID
	st.countdown = s.timerAfter(s.readyCountdown, func() {
		s.readyCountdownFired(roomID, gen)
	})
}

func (s *RoomService) cancelReadyCountdownLocked(st *roomState) {
	if st.countdown != nil {
		st.countdown.Stop()
		st.countdown = nil
	}
	st.timerGen++
}

// readyCountdownFired — колбэк отсчёта готовности. Кворум перепроверяется
// обязательно: за пять секунд состав комнаты мог измениться.
func (s *RoomService) readyCountdownFired(roomID string, gen uint64) {
	st, err := s.state(roomID)
	if err != nil {
		return // комната уже уничтожена
	}

	st.mu.Lock()
	room := st.room
	if st.timerGen != gen || room.Status != models.RoomStatusReady {
		st.mu.Unlock()
		s.logger.Debug("stale ready countdown ignored", slog.String("room_id", roomID))
		return
	}
	st.countdown = nil
	if !room.QuorumReached() {
		room.Status = models.RoomStatusWaiting
		st.mu.Unlock()
		s.logger.Info("battle start aborted: quorum lost during countdown",
			slog.String("room_id", roomID))
		s.hub.BroadcastToRoom(roomID, realtime.Event{
			Type:   "room:ready-changed",
			RoomID: roomID,
			Payload: map[string]interface{}{
				"status": models.RoomStatusWaiting,
			},
		})
		return
	}
	st.mu.Unlock()

	s.startBattle(roomID, gen)
}
