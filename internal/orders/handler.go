package orders

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/httputil"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/oca"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/session"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, oca.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInstrument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrConnection), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrBrokerRejected), errors.Is(err, ErrBrokerID):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
}

type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	Exchange    string `json:"exchange"`
	Side        string `json:"side"`
	Type        string `json:"order_type"`
	Quantity    int64  `json:"quantity"`
	LimitPrice  string `json:"limit_price"`
	StopPrice   string `json:"stop_price"`
	TimeInForce string `json:"tif"`
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	spec := model.OrderSpec{
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Exchange:    strings.TrimSpace(req.Exchange),
		Side:        types.OrderSide(strings.ToUpper(req.Side)),
		Kind:        types.OrderKindMarket,
		Quantity:    req.Quantity,
		TimeInForce: types.TimeInForceDay,
	}
	if req.Type != "" {
		spec.Kind = types.OrderKind(strings.ToUpper(req.Type))
	}
	if req.TimeInForce != "" {
		spec.TimeInForce = types.TimeInForce(strings.ToUpper(req.TimeInForce))
	}
	if req.LimitPrice != "" {
		p, err := decimal.NewFromString(req.LimitPrice)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit_price"})
			return
		}
		spec.LimitPrice = &p
	}
	if req.StopPrice != "" {
		p, err := decimal.NewFromString(req.StopPrice)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid stop_price"})
			return
		}
		spec.StopPrice = &p
	}
	res, err := h.svc.Enqueue(r.Context(), spec)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": h.svc.ListResults()})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetResult(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"internal_id": id, "cancelled": true})
}

type placeBracketRequest struct {
	Symbol      string `json:"symbol"`
	Exchange    string `json:"exchange"`
	Side        string `json:"side"`
	Quantity    int64  `json:"quantity"`
	TargetPrice string `json:"target_price"`
	StopPrice   string `json:"stop_price"`
	TimeInForce string `json:"tif"`
	OCOOnly     bool   `json:"oco_only"`
}

func (h *Handler) PlaceBracket(w http.ResponseWriter, r *http.Request) {
	var req placeBracketRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid target_price"})
		return
	}
	stop, err := decimal.NewFromString(req.StopPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid stop_price"})
		return
	}
	breq := BracketRequest{
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Exchange:    strings.TrimSpace(req.Exchange),
		Side:        types.OrderSideBuy,
		Quantity:    req.Quantity,
		TargetPrice: target,
		StopPrice:   stop,
		TimeInForce: types.TimeInForceDay,
		OCOOnly:     req.OCOOnly,
	}
	if req.Side != "" {
		breq.Side = types.OrderSide(strings.ToUpper(req.Side))
	}
	if req.TimeInForce != "" {
		breq.TimeInForce = types.TimeInForce(strings.ToUpper(req.TimeInForce))
	}
	placement, err := h.svc.PlaceBracket(r.Context(), breq)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, placement)
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.ListActiveGroups(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"active": groups})
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.GetGroupDetail(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) CancelGroup(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CancelGroup(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
