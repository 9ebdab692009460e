package workflow

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/httputil"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/orders"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/session"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type runRequest struct {
	Symbol string          `json:"symbol"`
	Root   json.RawMessage `json:"root"`
}

type runResponse struct {
	OK      bool           `json:"ok"`
	Results map[string]any `json:"results"`
	Error   string         `json:"error,omitempty"`
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "unreadable body"})
		return
	}
	var req runRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid json body: " + err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	if len(req.Root) == 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "root node is required"})
		return
	}
	root, err := Parse(req.Root)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	results, err := h.engine.Run(r.Context(), root, symbol)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrTimeout):
			status = http.StatusGatewayTimeout
		case errors.Is(err, orders.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrConnection):
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, runResponse{OK: false, Results: results, Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runResponse{OK: true, Results: results})
}
