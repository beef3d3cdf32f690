package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Dosada05/code-arena/models"
	"github.com/Dosada05/code-arena/repositories"
	"github.com/Dosada05/code-arena/storage"
	"github.com/samber/lo"
)

const (
	ratingWinDelta  = 25
	ratingLossDelta = -20
	ratingDrawDelta = 5

	defaultRetryAttempts = 5
	defaultRetryDelay    = 10 * time.Second
)

// SettlementInput — запечатанный снимок завершённой битвы.
type SettlementInput struct {
	RoomID    string
	ProblemID int
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Results   []models.ParticipantResult
}

// SettlementService ранжирует участников, персистит Match и обновляет
// рейтинги. Запись матча и рейтинги последовательны, не транзакционны:
// сбой рейтинга логируется и повторяется, но не блокирует матч.
type SettlementService struct {
	matches repositories.MatchRepository
	users   repositories.UserRepository
	archive storage.FileUploader // nil — архивация кода выключена
	logger  *slog.Logger

	retryAttempts int
	retryDelay    time.Duration
}

func NewSettlementService(
	matches repositories.MatchRepository,
	users repositories.UserRepository,
	archive storage.FileUploader,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		matches:       matches,
		users:         users,
		archive:       archive,
		logger:        logger,
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}
}

// rankResults сортирует снимки по порядку зачёта: счёт по убыванию, затем
// затраченное время по возрастанию, затем число отправок по возрастанию.
// Стабильная сортировка делает полную ничью детерминированной (порядок
// вступления в комнату).
func rankResults(results []models.ParticipantResult) []models.ParticipantResult {
	ranked := append([]models.ParticipantResult(nil), results...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].TimeSpentMS != ranked[j].TimeSpentMS {
			return ranked[i].TimeSpentMS < ranked[j].TimeSpentMS
		}
		return ranked[i].SubmissionCount < ranked[j].SubmissionCount
	})
	return ranked
}

// Settle выполняется ровно один раз на комнату: детерминированный ключ
// идемпотентности (roomID + момент конца) отсекает двойной расчёт даже при
// гонке таймеров.
func (s *SettlementService) Settle(ctx context.Context, input SettlementInput) (*models.Match, error) {
	ranked := rankResults(input.Results)

	// Ничья по рейтингу: верхний счёт делят двое и больше. Победитель матча
	// при этом всё равно единственный — по заявленному порядку зачёта.
	draw := len(ranked) >= 2 && ranked[0].Score == ranked[1].Score

	match := &models.Match{
		Key:             fmt.Sprintf("%s:%d", input.RoomID, input.EndedAt.Unix()),
		RoomID:          input.RoomID,
		ProblemID:       input.ProblemID,
		StartedAt:       input.StartedAt,
		EndedAt:         input.EndedAt,
		DurationSeconds: int(input.Duration.Seconds()),
	}

	for i, r := range ranked {
		outcome := models.OutcomeLoss
		delta := ratingLossDelta
		switch {
		case draw && r.Score == ranked[0].Score:
			outcome = models.OutcomeDraw
			delta = ratingDrawDelta
		case i == 0:
			outcome = models.OutcomeWin
			delta = ratingWinDelta
		}

		rating := models.DefaultRating
		if user, err := s.users.GetByID(ctx, r.UserID); err != nil {
			s.logger.Error("failed to load rating, assuming default",
				slog.Int("user_id", r.UserID), slog.Any("error", err))
		} else {
			rating = user.Rating
		}
		after := rating + delta
		if after < models.MinRating {
			after = models.MinRating
		}

		match.Participants = append(match.Participants, models.MatchParticipant{
			UserID:          r.UserID,
			Nickname:        r.Nickname,
			Rank:            i + 1,
			Score:           r.Score,
			TimeSpentMS:     r.TimeSpentMS,
			PassedTests:     r.PassedTests,
			TotalTests:      r.TotalTests,
			SubmissionCount: r.SubmissionCount,
			Code:            r.Code,
			Language:        r.Language,
			Outcome:         outcome,
			RatingDelta:     after - rating,
			RatingAfter:     after,
		})
	}

	if len(match.Participants) > 0 {
		winnerID := match.Participants[0].UserID
		match.WinnerID = &winnerID
		match.MeanScore = lo.SumBy(match.Participants, func(p models.MatchParticipant) float64 {
			return float64(p.Score)
		}) / float64(len(match.Participants))
		match.MeanTimeMS = lo.SumBy(match.Participants, func(p models.MatchParticipant) int64 {
			return p.TimeSpentMS
		}) / int64(len(match.Participants))
	}
	match.Languages = lo.CountValuesBy(
		lo.Filter(match.Participants, func(p models.MatchParticipant, _ int) bool {
			return p.Language != ""
		}),
		func(p models.MatchParticipant) string { return p.Language },
	)

	if err := s.matches.Save(ctx, match); err != nil {
		s.logger.Error("failed to persist match, scheduling retry",
			slog.String("room_id", input.RoomID),
			slog.String("key", match.Key),
			slog.Any("error", err))
		go s.retrySave(match)
		return nil, fmt.Errorf("failed to persist match for room %s: %w", input.RoomID, err)
	}

	s.logger.Info("match persisted",
		slog.Int("match_id", match.ID),
		slog.String("room_id", input.RoomID),
		slog.Int("participants", len(match.Participants)))

	// Рейтинги идут после матча. Сбой только логируется и повторяется.
	for _, p := range match.Participants {
		s.updateRating(p)
	}

	if s.archive != nil {
		go s.archiveCode(match)
	}
	return match, nil
}

func (s *SettlementService) updateRating(p models.MatchParticipant) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := s.users.UpdateRating(ctx, p.UserID, p.RatingAfter, models.TierForRating(p.RatingAfter))
	cancel()
	if err == nil {
		return
	}
	s.logger.Error("rating update failed, scheduling retry",
		slog.Int("user_id", p.UserID),
		slog.Int("rating_after", p.RatingAfter),
		slog.Any("error", err))
	go s.retryRating(p)
}

func (s *SettlementService) retryRating(p models.MatchParticipant) {
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		time.Sleep(s.retryDelay)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.users.UpdateRating(ctx, p.UserID, p.RatingAfter, models.TierForRating(p.RatingAfter))
		cancel()
		if err == nil {
			s.logger.Info("rating update retry succeeded",
				slog.Int("user_id", p.UserID), slog.Int("attempt", attempt))
			return
		}
		s.logger.Error("rating update retry failed",
			slog.Int("user_id", p.UserID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
	s.logger.Error("rating update dropped after retries exhausted",
		slog.Int("user_id", p.UserID), slog.Int("rating_after", p.RatingAfter))
}

func (s *SettlementService) retrySave(match *models.Match) {
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		time.Sleep(s.retryDelay)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.matches.Save(ctx, match)
		cancel()
		if err == nil {
			s.logger.Info("match save retry succeeded",
				slog.String("key", match.Key), slog.Int("attempt", attempt))
			for _, p := range match.Participants {
				s.updateRating(p)
			}
			return
		}
		s.logger.Error("match save retry failed",
			slog.String("key", match.Key),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
	s.logger.Error("match save dropped after retries exhausted", slog.String("key", match.Key))
}

// archiveCode выгружает финальный код участников в объектное хранилище.
// Чисто аналитический побочный эффект: любые сбои только логируются.
func (s *SettlementService) archiveCode(match *models.Match) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, p := range match.Participants {
		if p.Code == "" {
			continue
		}
		key := fmt.Sprintf("matches/%d/%d%s", match.ID, p.UserID, extensionFor(p.Language))
		if _, err := s.archive.Upload(ctx, key, "text/plain; charset=utf-8", bytes.NewReader([]byte(p.Code))); err != nil {
			s.logger.Error("failed to archive submission code",
				slog.Int("match_id", match.ID),
				slog.Int("user_id", p.UserID),
				slog.Any("error", err))
		}
	}
}

func extensionFor(language string) string {
	switch language {
	case "go":
		return ".go"
	case "python":
		return ".py"
	case "javascript":
		return ".js"
	case "java":
		return ".java"
	case "cpp", "c++":
		return ".cpp"
	default:
		return ".txt"
	}
}

// GetMatch отдаёт сохранённый матч.
func (s *SettlementService) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	match, err := s.matches.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return match, nil
}

// ListUserMatches отдаёт историю матчей пользователя.
func (s *SettlementService) ListUserMatches(ctx context.Context, userID, limit int) ([]*models.Match, error) {
	return s.matches.ListByUser(ctx, userID, limit)
}
