package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dosada05/code-arena/models"
	"github.com/lib/pq"
)

var ErrProblemNotFound = errors.New("problem not found")

type ProblemRepository interface {
	GetByID(ctx context.Context, id int) (*models.Problem, error)
	// GetRandomByDifficulty возвращает случайную задачу заданной сложности,
	// исключая уже виденные. Если подходящих нет — ErrProblemNotFound.
	GetRandomByDifficulty(ctx context.Context, difficulty models.Difficulty, excludeIDs []int) (*models.Problem, error)
}

type postgresProblemRepository struct {
	db *sql.DB
}

func NewPostgresProblemRepository(db *sql.DB) ProblemRepository {
	return &postgresProblemRepository{db: db}
}

const problemColumns = `id, title, description, difficulty, test_cases, time_limit_ms, memory_limit_kb, created_at`

func (r *postgresProblemRepository) GetByID(ctx context.Context, id int) (*models.Problem, error) {
	query := fmt.Sprintf(`SELECT %s FROM problems WHERE id = $1`, problemColumns)
	return scanProblem(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresProblemRepository) GetRandomByDifficulty(ctx context.Context, difficulty models.Difficulty, excludeIDs []int) (*models.Problem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM problems
		WHERE difficulty = $1 AND NOT (id = ANY($2))
		ORDER BY random()
		LIMIT 1`, problemColumns)

	if excludeIDs == nil {
		excludeIDs = []int{}
	}
	problem, err := scanProblem(r.db.QueryRowContext(ctx, query, difficulty, pq.Array(excludeIDs)))
	if errors.Is(err, ErrProblemNotFound) && len(excludeIDs) > 0 {
		// Пул исчерпан — повторяем без исключений.
		return scanProblem(r.db.QueryRowContext(ctx, query, difficulty, pq.Array([]int{})))
	}
	return problem, err
}

func scanProblem(row *sql.Row) (*models.Problem, error) {
	var p models.Problem
	var testCases []byte

	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.Difficulty,
		&testCases,
		&p.Limits.TimeLimitMS,
		&p.Limits.MemoryLimitKB,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProblemNotFound
		}
		return nil, fmt.Errorf("failed to scan problem: %w", err)
	}

	if len(testCases) > 0 {
		if err := json.Unmarshal(testCases, &p.TestCases); err != nil {
			return nil, fmt.Errorf("failed to decode test cases for problem %d: %w", p.ID, err)
		}
	}
	return &p, nil
}
