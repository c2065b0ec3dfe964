// Package httpapi is the HTTP adapter over the lifecycle service. Requests
// arrive pre-authenticated: the gateway verifies credentials and forwards the
// employee identity in X-Employee-* headers, customers in X-Customer-*.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
	"github.com/prontopos/pronto-core/internal/domain/menu"
	"github.com/prontopos/pronto-core/internal/domain/order"
	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/prontopos/pronto-core/internal/domain/session"
	"github.com/prontopos/pronto-core/internal/domain/staff"
	"github.com/prontopos/pronto-core/internal/observability"
)

const (
	headerEmployeeID   = "X-Employee-ID"
	headerEmployeeName = "X-Employee-Name"
	headerEmployeeRole = "X-Employee-Role"
	headerCustomerID   = "X-Customer-ID"
	headerCustomerName = "X-Customer-Name"

	componentHTTPHandler = "http_server"
)

type Handler struct {
	svc *lifecycle.Service
	log observability.Logger
	tel observability.Observability
}

func NewHandler(svc *lifecycle.Service, tel observability.Observability) *Handler {
	return &Handler{
		svc: svc,
		log: tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel: tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	h.route(mux, "GET /api/client/menu", h.handleMenu)
	h.route(mux, "POST /api/client/orders", h.handleCreateOrder)
	h.route(mux, "GET /api/client/orders/{id}", h.handleGetOrder)
	h.route(mux, "GET /api/client/sessions/{id}/validate", h.handleValidateSession)

	h.route(mux, "POST /api/employee/orders/{id}/accept", h.handleAccept)
	h.route(mux, "POST /api/employee/kitchen/orders/{id}/start", h.handleStartPrep)
	h.route(mux, "POST /api/employee/kitchen/orders/{id}/ready", h.handleMarkReady)
	h.route(mux, "POST /api/employee/orders/{id}/deliver", h.handleDeliver)
	h.route(mux, "POST /api/employee/orders/{id}/cancel", h.handleCancel)

	h.route(mux, "POST /api/employee/sessions/{id}/checkout", h.handleCheckout)
	h.route(mux, "POST /api/employee/sessions/{id}/pay", h.handlePay)
	h.route(mux, "POST /api/employee/sessions/{id}/confirm-payment", h.handleConfirmPayment)
	h.route(mux, "POST /api/employee/sessions/{id}/receipt/resend", h.handleResendReceipt)
	h.route(mux, "GET /api/employee/sessions/{id}/receipt", h.handleReprintReceipt)
	h.route(mux, "POST /api/employee/sessions/{id}/close", h.handleCloseSession)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func (h *Handler) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.HandleFunc(pattern, h.withObservability(pattern, handler))
}

// employeeActor reconstructs the acting employee from gateway headers.
func employeeActor(r *http.Request) (staff.Actor, bool) {
	id := r.Header.Get(headerEmployeeID)
	role := staff.Role(r.Header.Get(headerEmployeeRole))
	if id == "" || role == "" {
		return staff.Actor{}, false
	}
	return staff.Actor{
		ID:     id,
		Name:   r.Header.Get(headerEmployeeName),
		Role:   role,
		Scopes: staff.DefaultScopes(role),
		Active: true,
	}, true
}

func (h *Handler) handleMenu(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Menu(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, viewMenu(snap, h.svc.TipPresets()))
}

type createOrderItemRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes"`
	Modifiers  []struct {
		GroupID    string `json:"group_id"`
		ModifierID string `json:"modifier_id"`
		Quantity   int    `json:"quantity"`
	} `json:"modifiers"`
}

type createOrderRequest struct {
	TableID    string                   `json:"table_id"`
	GuestCount int                      `json:"guest_count"`
	Notes      string                   `json:"notes"`
	Items      []createOrderItemRequest `json:"items"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := lifecycle.CreateOrderInput{
		CustomerID:   r.Header.Get(headerCustomerID),
		CustomerName: r.Header.Get(headerCustomerName),
		TableID:      req.TableID,
		GuestCount:   req.GuestCount,
		Notes:        req.Notes,
	}
	for _, it := range req.Items {
		item := lifecycle.CreateItemInput{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			Notes:      it.Notes,
		}
		for _, m := range it.Modifiers {
			qty := m.Quantity
			if qty == 0 {
				qty = 1
			}
			item.Modifiers = append(item.Modifiers, order.ModifierSelection{
				GroupID:    m.GroupID,
				ModifierID: m.ModifierID,
				Quantity:   qty,
			})
		}
		input.Items = append(input.Items, item)
	}

	result, err := h.svc.CreateOrder(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"order":      viewOrder(result.Order),
		"session_id": result.SessionID,
	})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, history, err := h.svc.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"order":   viewOrder(o),
		"history": viewHistory(history),
	})
}

func (h *Handler) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	active, err := h.svc.ValidateSession(r.Context(), r.PathValue("id"))
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"active": active})
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Accept)
}

func (h *Handler) handleStartPrep(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.StartPrep)
}

func (h *Handler) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkReady)
}

// transition handles the argument-free workflow advances.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, orderID string, actor staff.Actor) error,
) {
	actor, ok := employeeActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	if err := op(r.Context(), r.PathValue("id"), actor); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

type deliverRequest struct {
	Items []struct {
		ItemID   string `json:"item_id"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
}

func (h *Handler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	actor, ok := employeeActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	var req deliverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	deliveries := make([]order.Delivery, 0, len(req.Items))
	for _, it := range req.Items {
		deliveries = append(deliveries, order.Delivery{ItemID: it.ItemID, Quantity: it.Quantity})
	}
	result, err := h.svc.Deliver(r.Context(), r.PathValue("id"), actor, deliveries)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"fully_delivered": result.FullyDelivered})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := employeeActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.Cancel(r.Context(), r.PathValue("id"), actor, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := employeeActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	totals, err := h.svc.PrepareCheckout(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, viewTotals(*totals))
}

type payRequest struct {
	Method          string  `json:"method"`
	TipAmount       *string `json:"tip_amount"`
	TipPercentage   *string `json:"tip_percentage"`
	CustomerContact string  `json:"customer_contact"`
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	actor, ok := employeeActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	var req payRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	method, err := order.ParsePaymentMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := lifecycle.PayInput{
		SessionID:       r.PathValue("id"),
		Method:          method,
		CustomerContact: req.CustomerContact,
	}
	if input.Tip.Amount, err = parseOptionalDecimal(req.TipAmount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if input.Tip.Percentage, err = parseOptionalDecimal(req.TipPercentage); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.svc.Pay(r.Context(), input, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"requires_confirmation": result.RequiresConfirmation,
		"totals":                viewTotals(result.Totals),
	})
}

func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := employeeActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	if err := h.svc.ConfirmPayment(r.Context(), r.PathValue("id"), actor); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

type resendReceiptRequest struct {
	Channel string `json:"channel"`
	Target  string `json:"target"`
}

func (h *Handler) handleResendReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := employeeActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	var req resendReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.ResendReceipt(r.Context(), r.PathValue("id"), actor, req.Channel, req.Target); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, nil)
}

func (h *Handler) handleReprintReceipt(w http.ResponseWriter, r *http.Request) {
	if _, ok := employeeActor(r); !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	html, err := h.svc.RenderReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := employeeActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errEmployeeIdentity)
		return
	}
	if err := h.svc.CloseSession(r.Context(), r.PathValue("id"), actor); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

var errEmployeeIdentity = errors.New("missing employee identity headers")

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Status: "error", Error: err.Error()})
}

// writeDomainError maps domain and port errors onto HTTP statuses without
// leaking transport concerns into the domain.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrInsufficientScope):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, order.ErrIllegalTransition),
		errors.Is(err, order.ErrIllegalMutation),
		errors.Is(err, session.ErrAlreadyPaid),
		errors.Is(err, session.ErrNotCheckedOut),
		errors.Is(err, session.ErrClosed),
		errors.Is(err, lifecycle.ErrTableUnavailable):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrModifierViolation),
		errors.Is(err, pricing.ErrInvalidAmount),
		errors.Is(err, menu.ErrNotFound),
		errors.Is(err, lifecycle.ErrUnknownMenuItem),
		errors.Is(err, lifecycle.ErrInvalidPaymentMethod):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, lifecycle.ErrPersistenceUnavailable),
		errors.Is(err, lifecycle.ErrLockTimeout):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
