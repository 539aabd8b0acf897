package handler

import (
	"net/http"
	"strconv"

	apperrors "github.com/openclaw/support-relay-go/internal/errors"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// parseLimit reads ?limit=. A missing value yields DefaultLimit and large
// values are capped at MaxLimit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperrors.InvalidInput("limit", "must be a positive integer")
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, nil
}
