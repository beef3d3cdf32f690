package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dosada05/code-arena/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	roomID, host, _ := env.startedBattle(t)

	_, err := env.svc.Submit(context.Background(), roomID, host.ID, "", "python")
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.svc.Submit(context.Background(), roomID, host.ID, "print(1)", "")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestSubmitRequiresParticipant(t *testing.T) {
	env := newTestEnv(t)
	roomID, _, _ := env.startedBattle(t)

	_, err := env.svc.Submit(context.Background(), roomID, 99, "print(1)", "python")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, env.oracle.calls)
}

func TestSubmitRequiresRunningBattle(t *testing.T) {
	env := newTestEnv(t)
	host := testUser(1, "alice")
	roomID := env.createRoom(t, host, defaultSettings())

	_, err := env.svc.Submit(context.Background(), roomID, host.ID, "print(1)", "python")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, env.oracle.calls)
}

func TestSubmitAfterDeadlineRejectedWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	roomID, host, _ := env.startedBattle(t)

	env.clock.Advance(defaultSettings().TimeLimit() + time.Second)

	_, err := env.svc.Submit(context.Background(), roomID, host.ID, "print(1)", "python")
	assert.ErrorIs(t, err, ErrBattleExpired)
	assert.Equal(t, 0, env.oracle.calls)

	view, err := env.svc.GetRoom(roomID)
	require.NoError(t, err)
	for _, p := range view.Participants {
		assert.Zero(t, p.SubmissionCount)
	}
}

func TestSubmitScoringAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	roomID, host, _ := env.startedBattle(t)

	env.oracle.results = []models.TestResult{
		{Index: 0, Passed: true, TimeMS: 12},
		{Index: 1, Passed: true, TimeMS: 15},
		{Index: 2, Passed: false, Output: "4", Expected: "5"},
	}
	env.clock.Advance(time.Minute)

	sub, err := env.svc.Submit(context.Background(), roomID, host.ID, "print(1)", "python")
	require.NoError(t, err)

	assert.Equal(t, models.SubmissionScored, sub.Status)
	assert.Equal(t, 2, sub.PassedTests)
	assert.Equal(t, 3, sub.TotalTests)
	// 2 из 3 — округляется до 67.
	assert.Equal(t, 67, sub.Score)

	assert.True(t, env.hub.hasBroadcast("battle:submission"))

	view, err := env.svc.GetRoom(roomID)
	require.NoError(t, err)
	var hostView *ParticipantView
	for i := range view.Participants {
		if view.Participants[i].UserID == host.ID {
			hostView = &view.Participants[i]
		}
	}
	require.NotNil(t, hostView)
	assert.Equal(t, 67, hostView.Score)
	assert.Equal(t, 1, hostView.SubmissionCount)
}

func TestSubmitLatestSupersedesPrevious(t *testing.T) {
	env := newTestEnv(t)
	roomID, host, _ := env.startedBattle(t)

	env.oracle.results = []models.TestResult{
		{Index: 0, Passed: true},
		{Index: 1, Passed: false},
	}
	first, err := env.svc.Submit(context.Background(), roomID, host.ID, "v1", "python")
	require.NoError(t, err)
	require.Equal(t, 50, first.Score)

	// Вторая отправка хуже первой, но в зачёт идёт именно она.
	env.oracle.results = []models.TestResult{
		{Index: 0, Passed: false},
		{Index: 1, Passed: false},
	}
	second, err := env.svc.Submit(context.Background(), roomID, host.ID, "v2", "python")
	require.NoError(t, err)
	require.Equal(t, 0, second.Score)

	st, err := env.svc.state(roomID)
	require.NoError(t, err)
	st.mu.Lock()
	p := st.room.Participant(host.ID)
	assert.Same(t, second, p.Latest)
	assert.Len(t, p.Submissions, 2)
	st.mu.Unlock()
}

func TestSubmitOracleFailureDoesNotAffectStanding(t *testing.T) {
	env := newTestEnv(t)
	roomID, host, _ := env.startedBattle(t)

	env.oracle.results = []models.TestResult{{Index: 0, Passed: true}}
	good, err := env.svc.Submit(context.Background(), roomID, host.ID, "v1", "python")
	require.NoError(t, err)
	require.Equal(t, 100, good.Score) // grace не взводится: прошло меньше минуты

	env.oracle.err = errors.New("sandbox unavailable")
	bad, err := env.svc.Submit(context.Background(), roomID, host.ID, "v2", "python")
	require.ErrorIs(t, err, ErrOracle)
	require.NotNil(t, bad)
	assert.Equal(t, models.SubmissionError, bad.Status)
	assert.Zero(t, bad.Score)

	// Ошибочная отправка попадает в историю, но зачёт остаётся за прошлой.
	st, err := env.svc.state(roomID)
	require.NoError(t, err)
	st.mu.Lock()
	p := st.room.Participant(host.ID)
	assert.Same(t, good, p.Latest)
	assert.Len(t, p.Submissions, 2)
	st.mu.Unlock()
}

func TestSubmitResultDiscardedWhenBattleEndsMidFlight(t *testing.T) {
	env := newTestEnv(t)
	roomID, host, _ := env.startedBattle(t)

	// Жёсткий дедлайн срабатывает, пока оракул оценивает отправку:
	// результат в зачёт не идёт.
	env.oracle.results = []models.TestResult{{Index: 0, Passed: true}}
	env.oracle.onExecute = func() {
		env.clock.Advance(defaultSettings().TimeLimit())
		env.timers.fire(t, 1)
	}

	_, err := env.svc.Submit(context.Background(), roomID, host.ID, "slow", "python")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.Eventually(t, func() bool {
		return env.matches.savedCount() == 1
	}, time.Second, 10*time.Millisecond)

	key := env.matchKey(t, roomID)
	require.NotEmpty(t, key)
	match, err := env.matches.GetByKey(context.Background(), key)
	require.NoError(t, err)
	for _, p := range match.Participants {
		assert.Zero(t, p.Score)
	}
}
