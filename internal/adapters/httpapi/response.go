package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"timeline-service/internal/domain"
)

type okResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type eventResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"event_id"`
}

type preferencesResponse struct {
	Success     bool                     `json:"success"`
	Preferences domain.FilterPreferences `json:"preferences"`
}

type healthResponse struct {
	Success bool              `json:"success"`
	Checks  map[string]string `json:"checks"`
}

// rankedItemDTO повторяет RankedItem, но раскрывает сигналы только по
// явному include_signals.
type rankedItemDTO struct {
	Note            domain.Note     `json:"note"`
	Source          domain.Source   `json:"source"`
	FinalScore      float64         `json:"final_score"`
	Signals         *domain.Signals `json:"signals,omitempty"`
	InjectedAt      time.Time       `json:"injected_at"`
	InjectionReason string          `json:"injection_reason,omitempty"`
}

type pageResponse struct {
	Success    bool                    `json:"success"`
	Items      []rankedItemDTO         `json:"items"`
	Metadata   domain.TimelineMetadata `json:"metadata"`
	Pagination domain.Pagination       `json:"pagination"`
}

// statusOf сопоставляет код ошибки домена с HTTP-статусом.
func statusOf(kind domain.Kind) int {
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("httpapi: внутренняя ошибка")
	}
	writeJSON(w, statusOf(kind), errorResponse{
		Success:      false,
		ErrorCode:    string(kind),
		ErrorMessage: domain.MessageOf(err),
	})
}

func (h *Handler) writePage(w http.ResponseWriter, page domain.TimelinePage, withSignals bool) {
	items := make([]rankedItemDTO, 0, len(page.Items))
	for _, item := range page.Items {
		dto := rankedItemDTO{
			Note:            item.Note,
			Source:          item.Source,
			FinalScore:      item.FinalScore,
			InjectedAt:      item.InjectedAt,
			InjectionReason: item.InjectionReason,
		}
		if withSignals {
			signals := item.Signals
			dto.Signals = &signals
		}
		items = append(items, dto)
	}
	writeJSON(w, http.StatusOK, pageResponse{
		Success:    true,
		Items:      items,
		Metadata:   page.Metadata,
		Pagination: page.Pagination,
	})
}
