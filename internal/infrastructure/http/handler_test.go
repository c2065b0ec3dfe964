package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
	"github.com/prontopos/pronto-core/internal/domain/pricing"
	"github.com/prontopos/pronto-core/internal/infrastructure/memory"
	"github.com/prontopos/pronto-core/internal/observability"
)

type stubRenderer struct{}

func (stubRenderer) Render(data lifecycle.ReceiptData) (lifecycle.Receipt, error) {
	return lifecycle.Receipt{HTML: []byte("<html>" + data.Session.ID + "</html>")}, nil
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("id-%04d", g.n)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.NewStore(memory.DemoMenu())
	svc := lifecycle.New(store, &seqIDs{}, stubRenderer{}, lifecycle.Settings{
		Currency:  "MXN",
		TaxRate:   decimal.RequireFromString("0.16"),
		PriceMode: pricing.TaxInclusive,
		TipPresets: []decimal.Decimal{
			decimal.NewFromInt(10), decimal.NewFromInt(15), decimal.NewFromInt(20),
		},
	}, observability.Nop())

	srv := httptest.NewServer(NewHandler(svc, observability.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func waiterHeaders() map[string]string {
	return map[string]string{
		headerEmployeeID:   "emp-1",
		headerEmployeeName: "Ana",
		headerEmployeeRole: "waiter",
	}
}

func createLimonadaOrder(t *testing.T, srv *httptest.Server) (orderID, sessionID string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/client/orders", createOrderRequest{
		TableID:    "table-7",
		GuestCount: 2,
		Items: []createOrderItemRequest{
			{MenuItemID: "item-limonada", Quantity: 1},
		},
	}, map[string]string{headerCustomerID: "cust-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := body["data"].(map[string]any)
	orderView := data["order"].(map[string]any)
	return orderView["id"].(string), data["session_id"].(string)
}

func TestMenuEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/client/menu", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	data := body["data"].(map[string]any)
	items := data["items"].([]any)
	assert.Len(t, items, 3)
	assert.Equal(t, []any{"10", "15", "20"}, data["tip_presets"])
}

func TestCreateOrderComputesInclusiveTotals(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/client/orders", createOrderRequest{
		TableID: "table-7",
		Items: []createOrderItemRequest{
			{MenuItemID: "item-limonada", Quantity: 1},
		},
	}, map[string]string{headerCustomerID: "cust-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ov := body["data"].(map[string]any)["order"].(map[string]any)
	assert.Equal(t, "30.17", ov["subtotal"])
	assert.Equal(t, "4.83", ov["tax"])
	assert.Equal(t, "35.00", ov["total"])
	assert.Equal(t, "requested", ov["workflow_status"])
	assert.Contains(t, ov["number"], "ORD_")
}

func TestCreateOrderUnknownItem(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/client/orders", createOrderRequest{
		TableID: "table-7",
		Items: []createOrderItemRequest{
			{MenuItemID: "item-nope", Quantity: 1},
		},
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
}

func TestEmployeeEndpointsRequireIdentity(t *testing.T) {
	srv := newTestServer(t)
	orderID, _ := createLimonadaOrder(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/employee/orders/"+orderID+"/accept", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAcceptRequiresWaiterScope(t *testing.T) {
	srv := newTestServer(t)
	orderID, _ := createLimonadaOrder(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/employee/orders/"+orderID+"/accept", nil,
		map[string]string{
			headerEmployeeID:   "emp-2",
			headerEmployeeRole: "chef",
		})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestQuickServePayAndConfirmFlow(t *testing.T) {
	srv := newTestServer(t)
	orderID, sessionID := createLimonadaOrder(t, srv)

	// Quick-serve order advances straight to ready_for_delivery on accept.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/employee/orders/"+orderID+"/accept", nil, waiterHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/client/orders/"+orderID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ov := body["data"].(map[string]any)["order"].(map[string]any)
	assert.Equal(t, "ready_for_delivery", ov["workflow_status"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/employee/orders/"+orderID+"/deliver",
		deliverRequest{}, waiterHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/employee/sessions/"+sessionID+"/checkout", nil, waiterHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "35.00", body["data"].(map[string]any)["total"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/employee/sessions/"+sessionID+"/pay",
		payRequest{Method: "cash"}, waiterHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["data"].(map[string]any)["requires_confirmation"])

	// Confirmation is a cashier action; the waiter scope cannot settle cash.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/employee/sessions/"+sessionID+"/confirm-payment", nil, waiterHeaders())
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/employee/sessions/"+sessionID+"/confirm-payment", nil,
		map[string]string{
			headerEmployeeID:   "emp-3",
			headerEmployeeRole: "cashier",
		})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/client/sessions/"+sessionID+"/validate", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["data"].(map[string]any)["active"])
}

func TestDeliverBeforeReadyConflicts(t *testing.T) {
	srv := newTestServer(t)

	// A kitchen item does not auto-advance, so delivery right after accept is
	// out of order.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/client/orders", createOrderRequest{
		TableID: "table-9",
		Items: []createOrderItemRequest{
			{
				MenuItemID: "item-burger",
				Quantity:   1,
				Modifiers: []struct {
					GroupID    string `json:"group_id"`
					ModifierID string `json:"modifier_id"`
					Quantity   int    `json:"quantity"`
				}{
					{GroupID: "grp-term", ModifierID: "mod-medio"},
				},
			},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID := body["data"].(map[string]any)["order"].(map[string]any)["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/employee/orders/"+orderID+"/accept", nil, waiterHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/employee/orders/"+orderID+"/deliver",
		deliverRequest{}, waiterHeaders())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetOrderNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/client/orders/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
