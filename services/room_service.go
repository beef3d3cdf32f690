package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/code-arena/models"
	"github.com/Dosada05/code-arena/realtime"
	"github.com/Dosada05/code-arena/repositories"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultReadyCountdown  = 5 * time.Second
	defaultEndGraceWindow  = 10 * time.Second
	defaultMinEarlyElapsed = 60 * time.Second
)

// Broadcaster — внешняя граница рассылки событий (realtime.Hub).
type Broadcaster interface {
	BroadcastToRoom(roomID string, message interface{})
	SendToUser(roomID string, userID int, message interface{})
}

// ScoringOracle исполняет присланный код против тестов задачи. Для ядра это
// непрозрачный контракт: реальная песочница живёт в отдельном сервисе.
type ScoringOracle interface {
	Execute(ctx context.Context, code, language string, testCases []models.TestCase, limits models.ExecutionLimits) ([]models.TestResult, error)
}

// roomState оборачивает живой агрегат комнаты. Все мутации одной комнаты
// сериализуются через mu (single-writer). Разные комнаты полностью независимы.
type roomState struct {
	mu   sync.Mutex
	room *models.Room

	// timerGen инвалидирует колбэки таймеров, взведённых до смены статуса:
	// устаревший таймер не может повторно запустить расчёт.
	timerGen  uint64
	countdown *time.Timer
	hardEnd   *time.Timer
	graceEnd  *time.Timer
}

// RoomService владеет реестром комнат и машиной состояний битвы.
type RoomService struct {
	mu       sync.RWMutex
	rooms    map[string]*roomState
	userRoom map[int]string // участник -> комната (не считая зрителей)

	problems   repositories.ProblemRepository
	oracle     ScoringOracle
	settlement *SettlementService
	hub        Broadcaster
	logger     *slog.Logger

	now        func() time.Time
	timerAfter func(d time.Duration, f func()) *time.Timer

	readyCountdown  time.Duration
	endGraceWindow  time.Duration
	minEarlyElapsed time.Duration

	seenMu       sync.Mutex
	seenProblems map[int][]int // userID -> задачи, которые он уже играл
}

func NewRoomService(
	problems repositories.ProblemRepository,
	oracle ScoringOracle,
	settlement *SettlementService,
	hub Broadcaster,
	logger *slog.Logger,
) *RoomService {
	return &RoomService{
		rooms:           make(map[string]*roomState),
		userRoom:        make(map[int]string),
		problems:        problems,
		oracle:          oracle,
		settlement:      settlement,
		hub:             hub,
		logger:          logger,
		now:             time.Now,
		timerAfter:      time.AfterFunc,
		readyCountdown:  defaultReadyCountdown,
		endGraceWindow:  defaultEndGraceWindow,
		minEarlyElapsed: defaultMinEarlyElapsed,
		seenProblems:    make(map[int][]int),
	}
}

type CreateRoomInput struct {
	Name     string              `json:"name"`
	Settings models.RoomSettings `json:"settings"`
	Private  bool                `json:"private"`
	Password string              `json:"password"`
}

func validateSettings(s models.RoomSettings) error {
	if s.MaxParticipants < models.MinParticipants || s.MaxParticipants > models.MaxParticipantsCap {
		return fmt.Errorf("%w: max participants must be between %d and %d",
			ErrInvalidSettings, models.MinParticipants, models.MaxParticipantsCap)
	}
	if s.TimeLimitMinutes < models.MinTimeLimitMinutes || s.TimeLimitMinutes > models.MaxTimeLimitMinutes {
		return fmt.Errorf("%w: time limit must be between %d and %d minutes",
			ErrInvalidSettings, models.MinTimeLimitMinutes, models.MaxTimeLimitMinutes)
	}
	if !s.Difficulty.Valid() {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidSettings, s.Difficulty)
	}
	return nil
}

// CreateRoom валидирует настройки, создаёт комнату и вставляет хоста первым
// участником.
func (s *RoomService) CreateRoom(ctx context.Context, host *models.User, input CreateRoomInput) (*RoomView, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: room name is required", ErrValidationFailed)
	}
	if err := validateSettings(input.Settings); err != nil {
		return nil, err
	}
	if input.Private && input.Password == "" {
		return nil, fmt.Errorf("%w: private room requires a password", ErrValidationFailed)
	}

	var passwordHash string
	if input.Private {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash room password: %w", err)
		}
		passwordHash = string(hash)
	}

	room := &models.Room{
		ID:           uuid.NewString(),
		Name:         input.Name,
		HostID:       host.ID,
		Private:      input.Private,
		PasswordHash: passwordHash,
		Settings:     input.Settings,
		Status:       models.RoomStatusWaiting,
		CreatedAt:    s.now(),
		Participants: []*models.Participant{{
			UserID:   host.ID,
			Nickname: host.Nickname,
			JoinedAt: s.now(),
		}},
	}
	st := &roomState{room: room}

	s.mu.Lock()
	if existing, ok := s.userRoom[host.ID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: room %s", ErrAlreadyInRoom, existing)
	}
	s.rooms[room.ID] = st
	s.userRoom[host.ID] = room.ID
	s.mu.Unlock()

	s.logger.Info("room created",
		slog.String("room_id", room.ID),
		slog.Int("host_id", host.ID),
		slog.String("difficulty", string(input.Settings.Difficulty)))

	return s.viewLocked(room), nil
}

// JoinRoom добавляет участника. Capacity, дубликаты и идущая битва
// отклоняются без изменения состояния комнаты.
func (s *RoomService) JoinRoom(ctx context.Context, roomID string, user *models.User, password string) (*RoomView, error) {
	s.mu.Lock()
	if existing, ok := s.userRoom[user.ID]; ok && existing != roomID {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: room %s", ErrAlreadyInRoom, existing)
	}
	st, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	// Бронируем слот в индексе заранее; при отказе ниже откатываем.
	s.userRoom[user.ID] = roomID
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		if s.userRoom[user.ID] == roomID {
			delete(s.userRoom, user.ID)
		}
		s.mu.Unlock()
	}

	st.mu.Lock()
	room := st.room
	switch {
	case room.Terminal():
		st.mu.Unlock()
		rollback()
		return nil, ErrRoomNotFound
	case room.Status == models.RoomStatusInProgress:
		st.mu.Unlock()
		rollback()
		return nil, ErrBattleInProgress
	case room.Participant(user.ID) != nil:
		st.mu.Unlock()
		rollback()
		return nil, ErrDuplicateParticipant
	case len(room.Participants) >= room.Settings.MaxParticipants:
		st.mu.Unlock()
		rollback()
		return nil, ErrRoomFull
	}
	if room.Private {
		if err := bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password)); err != nil {
			st.mu.Unlock()
			rollback()
			return nil, ErrWrongPassword
		}
	}

	room.Participants = append(room.Participants, &models.Participant{
		UserID:   user.ID,
		Nickname: user.Nickname,
		JoinedAt: s.now(),
	})
	view := s.viewLocked(room)
	st.mu.Unlock()

	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:   "room:user-joined",
		RoomID: roomID,
		Payload: map[string]interface{}{
			"user_id":  user.ID,
			"nickname": user.Nickname,
			"room":     view,
		},
	})
	return view, nil
}

// LeaveRoom удаляет участника. Пустая комната уничтожается; если ушёл хост,
// роль переходит к самому раннему из оставшихся (FIFO).
func (s *RoomService) LeaveRoom(ctx context.Context, roomID string, userID int) error {
	st, err := s.state(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	room := st.room
	idx := -1
	for i, p := range room.Participants {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		st.mu.Unlock()
		return ErrNotParticipant
	}

	room.Participants = append(room.Participants[:idx], room.Participants[idx+1:]...)

	hostChanged := false
	if room.HostID == userID && len(room.Participants) > 0 {
		room.HostID = room.Participants[0].UserID
		hostChanged = true
	}

	// Уход во время отсчёта готовности срывает кворум: отменяем старт сразу,
	// колбэк таймера всё равно перепроверил бы кворум на истечении.
	if room.Status == models.RoomStatusReady && !room.QuorumReached() {
		s.cancelReadyCountdownLocked(st)
		room.Status = models.RoomStatusWaiting
	}

	empty := len(room.Participants) == 0
	if empty && !room.Terminal() {
		room.Status = models.RoomStatusCancelled
		s.stopTimersLocked(st)
	}
	newHostID := room.HostID
	st.mu.Unlock()

	s.mu.Lock()
	if s.userRoom[userID] == roomID {
		delete(s.userRoom, userID)
	}
	if empty {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()

	if empty {
		s.logger.Info("room destroyed: last participant left", slog.String("room_id", roomID))
		return nil
	}

	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:    "room:user-left",
		RoomID:  roomID,
		Payload: map[string]interface{}{"user_id": userID},
	})
	if hostChanged {
		s.hub.BroadcastToRoom(roomID, realtime.Event{
			Type:    "room:host-changed",
			RoomID:  roomID,
			Payload: map[string]interface{}{"host_id": newHostID},
		})
	}
	return nil
}

// UpdateSettings разрешён только хосту и только в статусе waiting.
func (s *RoomService) UpdateSettings(ctx context.Context, roomID string, userID int, settings models.RoomSettings) (*RoomView, error) {
	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	st, err := s.state(roomID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	room := st.room
	if room.HostID != userID {
		st.mu.Unlock()
		return nil, ErrHostOnly
	}
	if room.Status != models.RoomStatusWaiting {
		st.mu.Unlock()
		return nil, ErrInvalidState
	}
	if settings.MaxParticipants < len(room.Participants) {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: max participants below current participant count", ErrInvalidSettings)
	}
	room.Settings = settings
	view := s.viewLocked(room)
	st.mu.Unlock()

	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:    "room:settings-changed",
		RoomID:  roomID,
		Payload: map[string]interface{}{"settings": settings},
	})
	return view, nil
}

// UpdateCode обновляет живой буфер кода участника.
func (s *RoomService) UpdateCode(ctx context.Context, roomID string, userID int, code string) error {
	st, err := s.state(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.room.Terminal() {
		return ErrInvalidState
	}
	p := st.room.Participant(userID)
	if p == nil {
		return ErrNotParticipant
	}
	p.CodeBuffer = code
	return nil
}

// AddChatMessage пишет сообщение в журнал комнаты и рассылает его.
func (s *RoomService) AddChatMessage(ctx context.Context, roomID string, userID int, content string) error {
	if content == "" {
		return fmt.Errorf("%w: empty chat message", ErrValidationFailed)
	}

	st, err := s.state(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	room := st.room
	p := room.Participant(userID)
	if p == nil && !room.IsSpectator(userID) {
		st.mu.Unlock()
		return ErrNotParticipant
	}
	nickname := ""
	if p != nil {
		nickname = p.Nickname
	}
	msg := models.ChatMessage{
		UserID:   userID,
		Nickname: nickname,
		Content:  content,
		SentAt:   s.now(),
	}
	room.Chat = append(room.Chat, msg)
	st.mu.Unlock()

	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:    "room:chat",
		RoomID:  roomID,
		Payload: msg,
	})
	return nil
}

// Spectate регистрирует зрителя. Зритель не занимает игровой слот.
func (s *RoomService) Spectate(ctx context.Context, roomID string, userID int) (*RoomView, error) {
	st, err := s.state(roomID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	room := st.room
	if room.Terminal() {
		st.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if room.Participant(userID) != nil {
		st.mu.Unlock()
		return nil, ErrDuplicateParticipant
	}
	if !room.IsSpectator(userID) {
		room.Spectators = append(room.Spectators, userID)
	}
	view := s.viewLocked(room)
	st.mu.Unlock()

	s.hub.BroadcastToRoom(roomID, realtime.Event{
		Type:    "battle:spectator-joined",
		RoomID:  roomID,
		Payload: map[string]interface{}{"user_id": userID},
	})
	return view, nil
}

// GetRoom возвращает снимок комнаты.
func (s *RoomService) GetRoom(roomID string) (*RoomView, error) {
	st, err := s.state(roomID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.viewLocked(st.room), nil
}

// ListRooms возвращает снимки всех публичных комнат, открытых для входа.
func (s *RoomService) ListRooms() []*RoomView {
	s.mu.RLock()
	states := make([]*roomState, 0, len(s.rooms))
	for _, st := range s.rooms {
		states = append(states, st)
	}
	s.mu.RUnlock()

	views := make([]*RoomView, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !st.room.Private && !st.room.Terminal() {
			views = append(views, s.viewLocked(st.room))
		}
		st.mu.Unlock()
	}
	return views
}

// RoomIDForUser сообщает, в какой комнате состоит пользователь.
func (s *RoomService) RoomIDForUser(userID int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userRoom[userID]
	return id, ok
}

func (s *RoomService) state(roomID string) (*roomState, error) {
	s.mu.RLock()
	st, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return st, nil
}

// destroyRoom снимает комнату с учёта и освобождает участников.
// Вызывается без удержания st.mu.
func (s *RoomService) destroyRoom(st *roomState) {
	st.mu.Lock()
	s.stopTimersLocked(st)
	roomID := st.room.ID
	userIDs := make([]int, 0, len(st.room.Participants))
	for _, p := range st.room.Participants {
		userIDs = append(userIDs, p.UserID)
	}
	st.mu.Unlock()

	s.mu.Lock()
	delete(s.rooms, roomID)
	for _, id := range userIDs {
		if s.userRoom[id] == roomID {
			delete(s.userRoom, id)
		}
	}
	s.mu.Unlock()
}

// stopTimersLocked гасит все таймеры комнаты и инвалидирует их колбэки.
func (s *RoomService) stopTimersLocked(st *roomState) {
	st.timerGen++
	if st.countdown != nil {
		st.countdown.Stop()
		st.countdown = nil
	}
	if st.hardEnd != nil {
		st.hardEnd.Stop()
		st.hardEnd = nil
	}
	if st.graceEnd != nil {
		st.graceEnd.Stop()
		st.graceEnd = nil
	}
}

func (s *RoomService) rememberProblem(userIDs []int, problemID int) {
	s.seenMu.Lock()
	for _, id := range userIDs {
		s.seenProblems[id] = append(s.seenProblems[id], problemID)
	}
	s.seenMu.Unlock()
}

func (s *RoomService) seenProblemIDs(userIDs []int) []int {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	var ids []int
	for _, id := range userIDs {
		ids = append(ids, s.seenProblems[id]...)
	}
	return ids
}

// IsNotFound помогает хендлерам отличать отсутствующую комнату.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMatchNotFound) || errors.Is(err, repositories.ErrMatchNotFound) ||
		errors.Is(err, repositories.ErrUserNotFound)
}
