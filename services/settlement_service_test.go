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

func newSettlementEnv() (*SettlementService, *fakeMatchRepo, *fakeUserRepo) {
	matches := newFakeMatchRepo()
	users := newFakeUserRepo()
	return NewSettlementService(matches, users, nil, discardLogger()), matches, users
}

func settlementInput(results []models.ParticipantResult) SettlementInput {
	started := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return SettlementInput{
		RoomID:    "room-1",
		ProblemID: 7,
		StartedAt: started,
		EndedAt:   started.Add(15 * time.Minute),
		Duration:  15 * time.Minute,
		Results:   results,
	}
}

func TestRankResultsOrdering(t *testing.T) {
	results := []models.ParticipantResult{
		{UserID: 1, Score: 80, TimeSpentMS: 120_000, SubmissionCount: 2},
		{UserID: 2, Score: 80, TimeSpentMS: 90_000, SubmissionCount: 3},
		{UserID: 3, Score: 60, TimeSpentMS: 200_000, SubmissionCount: 1},
	}

	ranked := rankResults(results)

	// Равный счёт решает время, затем число отправок.
	require.Len(t, ranked, 3)
	assert.Equal(t, 2, ranked[0].UserID)
	assert.Equal(t, 1, ranked[1].UserID)
	assert.Equal(t, 3, ranked[2].UserID)

	// Исходный срез не переупорядочивается.
	assert.Equal(t, 1, results[0].UserID)
}

func TestRankResultsSubmissionCountTiebreak(t *testing.T) {
	ranked := rankResults([]models.ParticipantResult{
		{UserID: 1, Score: 70, TimeSpentMS: 100_000, SubmissionCount: 4},
		{UserID: 2, Score: 70, TimeSpentMS: 100_000, SubmissionCount: 2},
	})
	assert.Equal(t, 2, ranked[0].UserID)
}

func TestRankResultsFullTieIsStable(t *testing.T) {
	ranked := rankResults([]models.ParticipantResult{
		{UserID: 1, Score: 70, TimeSpentMS: 100_000, SubmissionCount: 2},
		{UserID: 2, Score: 70, TimeSpentMS: 100_000, SubmissionCount: 2},
	})
	// Полная ничья сохраняет порядок вступления в комнату.
	assert.Equal(t, 1, ranked[0].UserID)
}

func TestSettlePersistsMatchAndRatings(t *testing.T) {
	svc, matches, users := newSettlementEnv()
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 1, Nickname: "alice", Rating: 1200}))
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 2, Nickname: "bob", Rating: 1290}))

	match, err := svc.Settle(context.Background(), settlementInput([]models.ParticipantResult{
		{UserID: 1, Nickname: "alice", Score: 40, TimeSpentMS: 300_000, Language: "go"},
		{UserID: 2, Nickname: "bob", Score: 90, TimeSpentMS: 240_000, Language: "python"},
	}))
	require.NoError(t, err)
	require.NotNil(t, match)

	assert.Equal(t, 1, matches.savedCount())
	require.NotNil(t, match.WinnerID)
	assert.Equal(t, 2, *match.WinnerID)

	require.Len(t, match.Participants, 2)
	winner, loser := match.Participants[0], match.Participants[1]

	assert.Equal(t, models.OutcomeWin, winner.Outcome)
	assert.Equal(t, 1, winner.Rank)
	assert.Equal(t, 25, winner.RatingDelta)
	assert.Equal(t, 1315, winner.RatingAfter)

	assert.Equal(t, models.OutcomeLoss, loser.Outcome)
	assert.Equal(t, 2, loser.Rank)
	assert.Equal(t, -20, loser.RatingDelta)
	assert.Equal(t, 1180, loser.RatingAfter)

	// Рейтинги записаны вместе с новыми тирами.
	rating, ok := users.ratingOf(2)
	require.True(t, ok)
	assert.Equal(t, 1315, rating)
	for _, u := range users.updates {
		assert.Equal(t, models.TierForRating(u.rating), u.tier)
	}

	assert.InDelta(t, 65.0, match.MeanScore, 0.001)
	assert.Equal(t, int64(270_000), match.MeanTimeMS)
	assert.Equal(t, map[string]int{"go": 1, "python": 1}, match.Languages)
}

func TestSettleDrawWhenTopScoresTie(t *testing.T) {
	svc, _, users := newSettlementEnv()
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 1, Nickname: "alice", Rating: 1200}))
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 2, Nickname: "bob", Rating: 1200}))
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 3, Nickname: "carol", Rating: 1200}))

	match, err := svc.Settle(context.Background(), settlementInput([]models.ParticipantResult{
		{UserID: 1, Nickname: "alice", Score: 80, TimeSpentMS: 120_000},
		{UserID: 2, Nickname: "bob", Score: 80, TimeSpentMS: 90_000},
		{UserID: 3, Nickname: "carol", Score: 60, TimeSpentMS: 100_000},
	}))
	require.NoError(t, err)

	// Делящие верхний счёт получают ничью, победитель матча всё равно один.
	require.NotNil(t, match.WinnerID)
	assert.Equal(t, 2, *match.WinnerID)

	byUser := make(map[int]models.MatchParticipant)
	for _, p := range match.Participants {
		byUser[p.UserID] = p
	}
	assert.Equal(t, models.OutcomeDraw, byUser[1].Outcome)
	assert.Equal(t, 5, byUser[1].RatingDelta)
	assert.Equal(t, models.OutcomeDraw, byUser[2].Outcome)
	assert.Equal(t, 5, byUser[2].RatingDelta)
	assert.Equal(t, models.OutcomeLoss, byUser[3].Outcome)
	assert.Equal(t, -20, byUser[3].RatingDelta)
}

func TestSettleRatingFloor(t *testing.T) {
	svc, _, users := newSettlementEnv()
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 1, Nickname: "alice", Rating: 1200}))
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 2, Nickname: "bob", Rating: 810}))

	match, err := svc.Settle(context.Background(), settlementInput([]models.ParticipantResult{
		{UserID: 1, Nickname: "alice", Score: 90, TimeSpentMS: 100_000},
		{UserID: 2, Nickname: "bob", Score: 10, TimeSpentMS: 200_000},
	}))
	require.NoError(t, err)

	loser := match.Participants[1]
	// Полные -20 увели бы ниже пола: рейтинг останавливается на 800.
	assert.Equal(t, models.MinRating, loser.RatingAfter)
	assert.Equal(t, -10, loser.RatingDelta)
}

func TestSettleUnknownRatingAssumesDefault(t *testing.T) {
	svc, _, _ := newSettlementEnv()

	match, err := svc.Settle(context.Background(), settlementInput([]models.ParticipantResult{
		{UserID: 1, Nickname: "alice", Score: 90, TimeSpentMS: 100_000},
		{UserID: 2, Nickname: "bob", Score: 10, TimeSpentMS: 200_000},
	}))
	require.NoError(t, err)

	assert.Equal(t, models.DefaultRating+25, match.Participants[0].RatingAfter)
	assert.Equal(t, models.DefaultRating-20, match.Participants[1].RatingAfter)
}

func TestSettleIdempotentByKey(t *testing.T) {
	svc, matches, users := newSettlementEnv()
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 1, Nickname: "alice", Rating: 1200}))
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 2, Nickname: "bob", Rating: 1200}))

	input := settlementInput([]models.ParticipantResult{
		{UserID: 1, Nickname: "alice", Score: 90, TimeSpentMS: 100_000},
		{UserID: 2, Nickname: "bob", Score: 10, TimeSpentMS: 200_000},
	})

	first, err := svc.Settle(context.Background(), input)
	require.NoError(t, err)
	second, err := svc.Settle(context.Background(), input)
	require.NoError(t, err)

	// Один и тот же момент конца даёт один и тот же ключ: матч ровно один.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, matches.savedCount())
}

func TestSettleSaveFailureReturnsError(t *testing.T) {
	svc, matches, users := newSettlementEnv()
	svc.retryAttempts = 0
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 1, Nickname: "alice", Rating: 1200}))
	require.NoError(t, users.Create(context.Background(), &models.User{ID: 2, Nickname: "bob", Rating: 1200}))
	matches.saveErr = errors.New("db down")

	match, err := svc.Settle(context.Background(), settlementInput([]models.ParticipantResult{
		{UserID: 1, Nickname: "alice", Score: 90, TimeSpentMS: 100_000},
		{UserID: 2, Nickname: "bob", Score: 10, TimeSpentMS: 200_000},
	}))
	assert.Error(t, err)
	assert.Nil(t, match)
	// Рейтинги без матча не трогаются.
	assert.Empty(t, users.updates)
}

func TestGetMatchNotFound(t *testing.T) {
	svc, _, _ := newSettlementEnv()
	_, err := svc.GetMatch(context.Background(), 42)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestTierForRating(t *testing.T) {
	tests := []struct {
		rating int
		want   models.RankTier
	}{
		{800, models.TierBronze},
		{1299, models.TierBronze},
		{1300, models.TierSilver},
		{1500, models.TierGold},
		{1700, models.TierPlatinum},
		{1900, models.TierDiamond},
		{2100, models.TierMaster},
		{2500, models.TierMaster},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, models.TierForRating(tc.rating), "rating %d", tc.rating)
	}
}
