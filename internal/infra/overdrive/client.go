package overdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// Client выполняет запросы к внешнему тяжёлому ранкеру.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient создаёт клиента Overdrive.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout + time.Second}
	return &Client{http: httpClient, baseURL: baseURL}
}

// rankRequest описывает тело запроса.
type rankRequest struct {
	ViewerID         string   `json:"viewer_id"`
	CandidateNoteIDs []string `json:"candidate_note_ids"`
	Limit            int      `json:"limit"`
}

// rankResponse описывает ответ ранкера.
type rankResponse struct {
	Results []domain.RankedNoteScore `json:"results"`
}

// RankForYou вызывает /v1/rank и возвращает оценки для части кандидатов.
// Кандидаты, которых ранкер не вернул, сохраняют свою эвристическую оценку.
func (c *Client) RankForYou(ctx context.Context, viewerID string, noteIDs []string, limit int) ([]domain.RankedNoteScore, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("overdrive: base url is empty")
	}
	body, err := json.Marshal(rankRequest{ViewerID: viewerID, CandidateNoteIDs: noteIDs, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("overdrive: marshal request: %w", err)
	}
	endpoint := c.baseURL + "/v1/rank"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("overdrive: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveNetworkRequest("overdrive", "rank_for_you", "v1/rank", start, err)
		return nil, fmt.Errorf("overdrive: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("overdrive", "rank_for_you", "v1/rank", start, err)
		return nil, fmt.Errorf("overdrive: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("overdrive: %s", apiErr.Error.Message)
		} else {
			err = fmt.Errorf("overdrive: unexpected status %d", resp.StatusCode)
		}
		metrics.ObserveNetworkRequest("overdrive", "rank_for_you", "v1/rank", start, err)
		return nil, err
	}
	var ranked rankResponse
	if err := json.Unmarshal(respBody, &ranked); err != nil {
		metrics.ObserveNetworkRequest("overdrive", "rank_for_you", "v1/rank", start, err)
		return nil, fmt.Errorf("overdrive: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("overdrive", "rank_for_you", "v1/rank", start, nil)
	return ranked.Results, nil
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
