package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

type errorBody struct {
	Error string   `json:"error"`
	Kind  kpi.Kind `json:"kind"`
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(kind kpi.Kind) int {
	switch kind {
	case kpi.KindInvalidParameter:
		return http.StatusBadRequest
	case kpi.KindDegenerateInput:
		return http.StatusUnprocessableEntity
	case kpi.KindDataSourceUnavailable, kpi.KindUnavailable:
		return http.StatusServiceUnavailable
	case kpi.KindInsufficientData:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := kpi.KindOf(err)
	status := statusOf(kind)
	if status >= 500 {
		s.log.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	if kind == kpi.KindInsufficientData {
		writeJSON(w, status, []any{})
		return
	}
	msg := err.Error()
	if kind == kpi.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, kpi.Invalidf("%s is required", name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, kpi.Invalidf("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func queryIntDefault(r *http.Request, name string, def int) (int, error) {
	if r.URL.Query().Get(name) == "" {
		return def, nil
	}
	return queryInt(r, name)
}

func queryString(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", kpi.Invalidf("%s is required", name)
	}
	return v, nil
}

// queryList splits a comma separated parameter, dropping blanks.
func queryList(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
