// Package judge — HTTP-клиент внешнего оракула исполнения кода. Сам сервис
// песочницы — отдельная подсистема; здесь только контракт:
// детерминированные входы -> вердикты по тестам.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Dosada05/code-arena/models"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxConcurrentRuns     = 4
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger,
	}
}

type runRequest struct {
	Code          string `json:"code"`
	Language      string `json:"language"`
	Stdin         string `json:"stdin"`
	TimeLimitMS   int    `json:"time_limit_ms"`
	MemoryLimitKB int    `json:"memory_limit_kb"`
}

type runResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Status string `json:"status"` // "ok" | "compile_error" | "runtime_error" | "timeout"
	TimeMS int64  `json:"time_ms"`
}

// Execute гоняет код по всем тестам задачи. Тесты идут параллельно с
// ограничением, результат сохраняет порядок тестов. Любой транспортный сбой
// — ошибка оракула целиком: частичный вердикт хуже, чем его отсутствие.
func (c *Client) Execute(ctx context.Context, code, language string, testCases []models.TestCase, limits models.ExecutionLimits) ([]models.TestResult, error) {
	results := make([]models.TestResult, len(testCases))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRuns)

	for i, tc := range testCases {
		i, tc := i, tc
		g.Go(func() error {
			resp, err := c.run(gCtx, runRequest{
				Code:          code,
				Language:      language,
				Stdin:         tc.Input,
				TimeLimitMS:   limits.TimeLimitMS,
				MemoryLimitKB: limits.MemoryLimitKB,
			})
			if err != nil {
				return fmt.Errorf("test %d: %w", i, err)
			}
			results[i] = models.TestResult{
				Index:    i,
				Passed:   resp.Status == "ok" && normalizeOutput(resp.Stdout) == normalizeOutput(tc.Expected),
				Output:   resp.Stdout,
				Expected: tc.Expected,
				TimeMS:   resp.TimeMS,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) run(ctx context.Context, req runRequest) (*runResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("judge request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("judge returned status %d", httpResp.StatusCode)
	}

	var resp runResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode judge response: %w", err)
	}
	return &resp, nil
}

func normalizeOutput(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
