package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"timeline-service/internal/domain"
	"timeline-service/internal/usecase/timeline"
)

// maxBodyBytes ограничивает размер JSON-тела запроса.
const maxBodyBytes = 1 << 20

// parseTimelineRequest собирает запрос ленты из query-параметров и заголовков
// тонкой настройки. Мусорные значения молча пропускаются: ручки экспериментов
// не должны ронять запрос зрителя.
func parseTimelineRequest(r *http.Request, viewerID string, forYou bool) timeline.Request {
	req := timeline.Request{ViewerID: viewerID}

	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		req.Offset = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n >= 0 {
		req.Limit = n
		req.LimitSet = true
	}
	if alg, err := domain.ParseAlgorithm(q.Get("algorithm")); err == nil {
		req.Algorithm = alg
	}

	req.Overrides = parseOverrides(r, forYou)

	if forYou {
		if share, err := strconv.ParseFloat(r.Header.Get("x-discovery-share"), 64); err == nil && share >= 0 && share <= 1 {
			req.DiscoveryShare = &share
		}
		req.UseOverdrive = headerBool(r, "x-use-overdrive")
	}
	return req
}

// parseOverrides читает заголовки экспериментов. A/B-веса общие, а капы
// разведены по суффиксу -for-you, чтобы эксперимент над For-You не задевал
// общую ленту.
func parseOverrides(r *http.Request, forYou bool) domain.TimelineConfig {
	var cfg domain.TimelineConfig
	for _, src := range domain.Sources() {
		name := src.String()
		if w, err := strconv.ParseFloat(r.Header.Get("x-ab-"+name+"-weight"), 64); err == nil && w > 0 {
			if cfg.ABWeights == nil {
				cfg.ABWeights = make(map[domain.Source]float64, 4)
			}
			cfg.ABWeights[src] = w
		}
		capHeader := "x-cap-" + name
		if forYou {
			capHeader += "-for-you"
		}
		if limit, err := strconv.Atoi(r.Header.Get(capHeader)); err == nil && limit > 0 {
			if cfg.Caps == nil {
				cfg.Caps = make(map[domain.Source]int, 4)
			}
			cfg.Caps[src] = limit
		}
	}
	return cfg
}

// headerInt возвращает положительное целое из заголовка, 0 при отсутствии
// или мусоре.
func headerInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.Header.Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// headerBool трактует "1" и "true" как включённый флаг.
func headerBool(r *http.Request, name string) bool {
	switch r.Header.Get(name) {
	case "1", "true":
		return true
	}
	return false
}

func isAdmin(r *http.Request) bool {
	return headerBool(r, "x-admin")
}

func includeSignals(r *http.Request) bool {
	switch r.URL.Query().Get("include_signals") {
	case "1", "true":
		return true
	}
	return false
}

// decodeBody разбирает JSON-тело с ограничением размера.
func decodeBody(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return domain.WrapE(domain.KindInvalidArgument, "некорректное тело запроса", err)
	}
	return nil
}
