package handler

import (
	"net/http"

	"github.com/openclaw/support-relay-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
