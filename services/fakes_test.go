package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/code-arena/models"
	"github.com/Dosada05/code-arena/realtime"
	"github.com/Dosada05/code-arena/repositories"
	"github.com/stretchr/testify/require"
)

// testClock — управляемое время для детерминированных таймингов.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// armedTimer — таймер, взведённый сервисом. Тесты стреляют колбэками вручную.
type armedTimer struct {
	d time.Duration
	f func()
}

type fakeTimers struct {
	mu    sync.Mutex
	armed []armedTimer
}

func (ft *fakeTimers) after(d time.Duration, f func()) *time.Timer {
	ft.mu.Lock()
	ft.armed = append(ft.armed, armedTimer{d: d, f: f})
	ft.mu.Unlock()
	// Настоящий таймер никогда не стреляет: колбэк вызывается тестом.
	return time.NewTimer(time.Hour)
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.armed)
}

// fire вызывает колбэк i-го взведённого таймера.
func (ft *fakeTimers) fire(t *testing.T, i int) {
	t.Helper()
	ft.mu.Lock()
	require.Less(t, i, len(ft.armed), "timer %d was never armed", i)
	f := ft.armed[i].f
	ft.mu.Unlock()
	f()
}

func (ft *fakeTimers) last(t *testing.T) armedTimer {
	t.Helper()
	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.NotEmpty(t, ft.armed)
	return ft.armed[len(ft.armed)-1]
}

// fakeHub записывает события вместо рассылки по WebSocket.
type fakeHub struct {
	mu         sync.Mutex
	broadcasts []realtime.Event
	direct     []realtime.Event
}

func (h *fakeHub) BroadcastToRoom(roomID string, message interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev, ok := message.(realtime.Event); ok {
		h.broadcasts = append(h.broadcasts, ev)
	}
}

func (h *fakeHub) SendToUser(roomID string, userID int, message interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev, ok := message.(realtime.Event); ok {
		h.direct = append(h.direct, ev)
	}
}

func (h *fakeHub) broadcastTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]string, 0, len(h.broadcasts))
	for _, ev := range h.broadcasts {
		types = append(types, ev.Type)
	}
	return types
}

func (h *fakeHub) hasBroadcast(eventType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.broadcasts {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

type fakeProblemRepo struct {
	mu          sync.Mutex
	problem     *models.Problem
	err         error
	lastExclude []int
	calls       int
}

func (r *fakeProblemRepo) GetByID(ctx context.Context, id int) (*models.Problem, error) {
	if r.problem == nil {
		return nil, repositories.ErrProblemNotFound
	}
	return r.problem, nil
}

func (r *fakeProblemRepo) GetRandomByDifficulty(ctx context.Context, difficulty models.Difficulty, excludeIDs []int) (*models.Problem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastExclude = excludeIDs
	if r.err != nil {
		return nil, r.err
	}
	return r.problem, nil
}

type fakeOracle struct {
	mu      sync.Mutex
	results []models.TestResult
	err     error
	calls   int

	// onExecute, если задан, вызывается посреди оценки — вне блокировки
	// комнаты, как и настоящий оракул.
	onExecute func()
}

func (o *fakeOracle) Execute(ctx context.Context, code, language string, testCases []models.TestCase, limits models.ExecutionLimits) ([]models.TestResult, error) {
	o.mu.Lock()
	o.calls++
	results, err, hook := o.results, o.err, o.onExecute
	o.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

type ratingUpdate struct {
	userID int
	rating int
	tier   models.RankTier
}

type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[int]*models.User
	nextID    int
	updates   []ratingUpdate
	updateErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int]*models.User), nextID: 1}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if user.Email != "" && existing.Email == user.Email {
			return repositories.ErrUserEmailConflict
		}
		if user.Nickname != "" && existing.Nickname == user.Nickname {
			return repositories.ErrUserNicknameConflict
		}
	}
	if user.ID == 0 {
		user.ID = r.nextID
		r.nextID++
	} else if user.ID >= r.nextID {
		r.nextID = user.ID + 1
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (r *fakeUserRepo) UpdateRating(ctx context.Context, userID int, rating int, tier models.RankTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates = append(r.updates, ratingUpdate{userID: userID, rating: rating, tier: tier})
	if user, ok := r.users[userID]; ok {
		user.Rating = rating
		user.Tier = tier
	}
	return nil
}

func (r *fakeUserRepo) ratingOf(userID int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return 0, false
	}
	return user.Rating, true
}

type fakeMatchRepo struct {
	mu        sync.Mutex
	byKey     map[string]*models.Match
	nextID    int
	saveCalls int
	saveErr   error
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{byKey: make(map[string]*models.Match), nextID: 1}
}

// Save повторяет контракт настоящего репозитория: повторная запись с тем же
// ключом возвращает уже сохранённый матч.
func (r *fakeMatchRepo) Save(ctx context.Context, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	if r.saveErr != nil {
		return r.saveErr
	}
	if existing, ok := r.byKey[match.Key]; ok {
		match.ID = existing.ID
		match.CreatedAt = existing.CreatedAt
		return nil
	}
	match.ID = r.nextID
	r.nextID++
	match.CreatedAt = time.Now()
	cp := *match
	r.byKey[match.Key] = &cp
	return nil
}

func (r *fakeMatchRepo) GetByID(ctx context.Context, id int) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byKey {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repositories.ErrMatchNotFound
}

func (r *fakeMatchRepo) GetByKey(ctx context.Context, key string) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byKey[key]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMatchRepo) ListByUser(ctx context.Context, userID int, limit int) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []*models.Match
	for _, m := range r.byKey {
		for _, p := range m.Participants {
			if p.UserID == userID {
				cp := *m
				matches = append(matches, &cp)
				break
			}
		}
	}
	return matches, nil
}

func (r *fakeMatchRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	svc      *RoomService
	hub      *fakeHub
	problems *fakeProblemRepo
	oracle   *fakeOracle
	matches  *fakeMatchRepo
	users    *fakeUserRepo
	timers   *fakeTimers
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		hub:     &fakeHub{},
		oracle:  &fakeOracle{},
		matches: newFakeMatchRepo(),
		users:   newFakeUserRepo(),
		timers:  &fakeTimers{},
		clock:   newTestClock(),
		problems: &fakeProblemRepo{problem: &models.Problem{
			ID:         7,
			Title:      "Two Sum",
			Difficulty: models.DifficultyEasy,
			TestCases: []models.TestCase{
				{Input: "1 2", Expected: "3"},
				{Input: "2 3", Expected: "5", Hidden: true},
			},
			Limits: models.ExecutionLimits{TimeLimitMS: 2000, MemoryLimitKB: 65536},
		}},
	}

	settlement := NewSettlementService(env.matches, env.users, nil, discardLogger())
	env.svc = NewRoomService(env.problems, env.oracle, settlement, env.hub, discardLogger())
	env.svc.now = env.clock.Now
	env.svc.timerAfter = env.timers.after
	return env
}

func testUser(id int, nickname string) *models.User {
	return &models.User{ID: id, Nickname: nickname, Rating: models.DefaultRating}
}

func defaultSettings() models.RoomSettings {
	return models.RoomSettings{
		MaxParticipants:  2,
		TimeLimitMinutes: 15,
		Difficulty:       models.DifficultyEasy,
	}
}

// createRoom создаёт комнату с хостом и возвращает её идентификатор.
func (env *testEnv) createRoom(t *testing.T, host *models.User, settings models.RoomSettings) string {
	t.Helper()
	view, err := env.svc.CreateRoom(context.Background(), host, CreateRoomInput{
		Name:     "test room",
		Settings: settings,
	})
	require.NoError(t, err)
	return view.ID
}

// startedBattle прогоняет комнату до in_progress: два участника, оба готовы,
// отсчёт готовности истёк.
func (env *testEnv) startedBattle(t *testing.T) (roomID string, host, guest *models.User) {
	t.Helper()
	host = testUser(1, "alice")
	guest = testUser(2, "bob")

	roomID = env.createRoom(t, host, defaultSettings())
	_, err := env.svc.JoinRoom(context.Background(), roomID, guest, "")
	require.NoError(t, err)

	require.NoError(t, env.svc.SetReady(context.Background(), roomID, host.ID, true))
	require.NoError(t, env.svc.SetReady(context.Background(), roomID, guest.ID, true))

	countdown := env.timers.count()
	require.Equal(t, 1, countdown, "ready countdown must be armed")
	env.timers.fire(t, 0) // отсчёт истёк, битва стартует

	view, err := env.svc.GetRoom(roomID)
	require.NoError(t, err)
	require.Equal(t, models.RoomStatusInProgress, view.Status)
	return roomID, host, guest
}

// roomStatus подсматривает статус живой комнаты.
func (env *testEnv) roomStatus(t *testing.T, roomID string) models.RoomStatus {
	t.Helper()
	st, err := env.svc.state(roomID)
	require.NoError(t, err)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.room.Status
}
