package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dosada05/code-arena/models"
)

var ErrMatchNotFound = errors.New("match not found")

type MatchRepository interface {
	// Save персистит матч вместе с участниками. Ключ идемпотентности
	// match.Key гарантирует ровно одну запись на комнату: повторный вызов
	// с тем же ключом возвращает уже сохранённый матч.
	Save(ctx context.Context, match *models.Match) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	GetByKey(ctx context.Context, key string) (*models.Match, error)
	ListByUser(ctx context.Context, userID int, limit int) ([]*models.Match, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) Save(ctx context.Context, match *models.Match) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin match save tx: %w", err)
	}
	defer tx.Rollback()

	languages, err := json.Marshal(match.Languages)
	if err != nil {
		return fmt.Errorf("failed to encode language histogram: %w", err)
	}

	query := `
		INSERT INTO matches
			(key, room_id, problem_id, started_at, ended_at, duration_seconds,
			 winner_id, mean_score, mean_time_ms, languages)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO NOTHING
		RETURNING id, created_at`

	err = tx.QueryRowContext(ctx, query,
		match.Key,
		match.RoomID,
		match.ProblemID,
		match.StartedAt,
		match.EndedAt,
		match.DurationSeconds,
		match.WinnerID,
		match.MeanScore,
		match.MeanTimeMS,
		languages,
	).Scan(&match.ID, &match.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		// Ключ уже записан: кто-то успел раньше. Отдаём существующий матч.
		existing, getErr := r.GetByKey(ctx, match.Key)
		if getErr != nil {
			return fmt.Errorf("match key %s conflict, failed to load existing: %w", match.Key, getErr)
		}
		*match = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}

	for i := range match.Participants {
		p := &match.Participants[i]
		p.MatchID = match.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO match_participants
				(match_id, user_id, nickname, rank, score, time_spent_ms,
				 passed_tests, total_tests, submission_count, code, language,
				 outcome, rating_delta, rating_after)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
			p.MatchID, p.UserID, p.Nickname, p.Rank, p.Score, p.TimeSpentMS,
			p.PassedTests, p.TotalTests, p.SubmissionCount, p.Code, p.Language,
			p.Outcome, p.RatingDelta, p.RatingAfter,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to insert match participant %d: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match save tx: %w", err)
	}
	return nil
}

const matchColumns = `id, key, room_id, problem_id, started_at, ended_at, duration_seconds,
	winner_id, mean_score, mean_time_ms, languages, created_at`

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	query := fmt.Sprintf(`SELECT %s FROM matches WHERE id = $1`, matchColumns)
	match, err := r.scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadParticipants(ctx, match); err != nil {
		return nil, err
	}
	return match, nil
}

func (r *postgresMatchRepository) GetByKey(ctx context.Context, key string) (*models.Match, error) {
	query := fmt.Sprintf(`SELECT %s FROM matches WHERE key = $1`, matchColumns)
	match, err := r.scanMatch(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		return nil, err
	}
	if err := r.loadParticipants(ctx, match); err != nil {
		return nil, err
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByUser(ctx context.Context, userID int, limit int) ([]*models.Match, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`
		SELECT %s FROM matches m
		WHERE EXISTS (SELECT 1 FROM match_participants mp WHERE mp.match_id = m.id AND mp.user_id = $1)
		ORDER BY m.ended_at DESC
		LIMIT $2`, matchColumns)

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for user %d: %w", userID, err)
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		match, err := r.scanMatchRows(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}

	for _, match := range matches {
		if err := r.loadParticipants(ctx, match); err != nil {
			return nil, err
		}
	}
	return matches, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *postgresMatchRepository) scanMatch(row *sql.Row) (*models.Match, error) {
	match, err := scanMatchFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return match, nil
}

func (r *postgresMatchRepository) scanMatchRows(rows *sql.Rows) (*models.Match, error) {
	return scanMatchFrom(rows)
}

func scanMatchFrom(s rowScanner) (*models.Match, error) {
	var match models.Match
	var languages []byte

	err := s.Scan(
		&match.ID,
		&match.Key,
		&match.RoomID,
		&match.ProblemID,
		&match.StartedAt,
		&match.EndedAt,
		&match.DurationSeconds,
		&match.WinnerID,
		&match.MeanScore,
		&match.MeanTimeMS,
		&languages,
		&match.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan match: %w", err)
	}

	if len(languages) > 0 {
		if err := json.Unmarshal(languages, &match.Languages); err != nil {
			return nil, fmt.Errorf("failed to decode language histogram: %w", err)
		}
	}
	return &match, nil
}

func (r *postgresMatchRepository) loadParticipants(ctx context.Context, match *models.Match) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, match_id, user_id, nickname, rank, score, time_spent_ms,
		       passed_tests, total_tests, submission_count, code, language,
		       outcome, rating_delta, rating_after
		FROM match_participants
		WHERE match_id = $1
		ORDER BY rank ASC`, match.ID)
	if err != nil {
		return fmt.Errorf("failed to load participants for match %d: %w", match.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.MatchParticipant
		err := rows.Scan(
			&p.ID, &p.MatchID, &p.UserID, &p.Nickname, &p.Rank, &p.Score, &p.TimeSpentMS,
			&p.PassedTests, &p.TotalTests, &p.SubmissionCount, &p.Code, &p.Language,
			&p.Outcome, &p.RatingDelta, &p.RatingAfter,
		)
		if err != nil {
			return fmt.Errorf("failed to scan match participant: %w", err)
		}
		match.Participants = append(match.Participants, p)
	}
	return rows.Err()
}
