package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/blues/pes/internal/database/dbtest"
	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/lock"
	"github.com/blues/pes/internal/logic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	ledger *gateway.CreditLedger
}

// newTestServer 请求头 X-Actor-Id / X-Actor-Role 直接作为调用方身份
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.New(t)
	ledger := gateway.NewCreditLedger(db)
	engine := logic.New(logic.Options{
		DB:          db,
		Locker:      lock.NewKeyedMutex(time.Second),
		Entitlement: ledger,
	})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Actor-Id"); id != "" {
			role, _ := logic.ParseRole(c.GetHeader("X-Actor-Role"))
			c.Set(ActorKey, logic.Actor{Id: id, Role: role})
		}
		c.Next()
	})

	projects := NewProjectHandler(engine)
	deliveries := NewDeliveryHandler(engine)
	disputes := NewDisputeHandler(engine)
	payouts := NewPayoutHandler(engine, ledger)

	r.POST("/projects", projects.CreateProject)
	r.GET("/projects", projects.GetProjects)
	r.GET("/projects/:id", projects.GetProject)
	r.GET("/projects/:id/events", projects.GetProjectEvents)
	r.POST("/projects/:id/bids", projects.PlaceBid)
	r.POST("/projects/:id/close-bidding", projects.CloseBidding)
	r.POST("/projects/:id/delivery/submit", deliveries.Submit)
	r.POST("/projects/:id/delivery/approve", deliveries.Approve)
	r.POST("/projects/:id/delivery/dispute", deliveries.OpenDispute)
	r.POST("/disputes/:id/resolve", disputes.Resolve)
	r.GET("/payouts/:id", payouts.GetPayout)
	r.POST("/developers/:id/credits", payouts.GrantCredits)

	return &testServer{router: r, ledger: ledger}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, actorId, role string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorId != "" {
		req.Header.Set("X-Actor-Id", actorId)
		req.Header.Set("X-Actor-Role", role)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) createAuction(t *testing.T) int64 {
	t.Helper()
	require.NoError(t, s.ledger.Grant(context.Background(), "dev-1", 1))
	code, env := s.do(t, http.MethodPost, "/projects", "dev-1", "developer", map[string]interface{}{
		"title":        "Inventory service",
		"listing_type": "auction",
		"budget":       "2000",
		"lowest_bid":   "1000",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var project struct {
		Id int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &project))
	return project.Id
}

func projectPath(id int64, suffix string) string {
	return "/projects/" + jsonInt(id) + suffix
}

func jsonInt(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestCreateProjectRequiresActor(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodPost, "/projects", "", "", map[string]interface{}{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)
}

func TestCreateProjectWithoutCredit(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodPost, "/projects", "dev-1", "developer", map[string]interface{}{
		"title":        "Landing page",
		"listing_type": "fixed_price",
		"budget":       "1000",
	})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, string(logic.KindInsufficientCredit), env.Kind)
}

func TestCreateProjectValidation(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.ledger.Grant(context.Background(), "dev-1", 1))
	code, env := s.do(t, http.MethodPost, "/projects", "dev-1", "developer", map[string]interface{}{
		"title":        "Landing page",
		"listing_type": "fixed_price",
		"budget":       "-5",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(logic.KindValidation), env.Kind)
}

func TestInvalidPathId(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/projects/abc", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(t, http.MethodGet, "/projects/999", "", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(logic.KindNotFound), env.Kind)
}

func TestCloseBiddingWithoutBids(t *testing.T) {
	s := newTestServer(t)
	id := s.createAuction(t)

	code, env := s.do(t, http.MethodPost, projectPath(id, "/close-bidding"), "dev-1", "developer", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, string(logic.KindNoBids), env.Kind)
}

func TestAuctionToPayoutFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createAuction(t)

	code, env := s.do(t, http.MethodPost, projectPath(id, "/bids"), "inv-a", "investor", map[string]string{"amount": "1500"})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = s.do(t, http.MethodPost, projectPath(id, "/bids"), "inv-b", "investor", map[string]string{"amount": "1500"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(logic.KindValidation), env.Kind)

	code, env = s.do(t, http.MethodPost, projectPath(id, "/close-bidding"), "dev-1", "developer", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(t, http.MethodPost, projectPath(id, "/delivery/submit"), "dev-1", "developer", map[string]string{
		"delivery_url":   "https://git.example.com/inventory",
		"delivery_notes": "first cut",
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	// 未中标的投资人无权验收
	code, env = s.do(t, http.MethodPost, projectPath(id, "/delivery/approve"), "inv-b", "investor", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(logic.KindForbidden), env.Kind)

	code, env = s.do(t, http.MethodPost, projectPath(id, "/delivery/approve"), "inv-a", "investor", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	var result logic.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "closed", string(result.Project.Status))
	require.Len(t, result.Payouts, 1)
	assert.Equal(t, "120.00", result.Payouts[0].PlatformFee.StringFixed(2))
	assert.Equal(t, "1880.00", result.Payouts[0].NetAmount.StringFixed(2))

	code, env = s.do(t, http.MethodGet, "/payouts/"+jsonInt(result.Payouts[0].Id), "", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, projectPath(id, "/delivery/approve"), "inv-a", "investor", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(logic.KindInvalidTransition), env.Kind)

	code, env = s.do(t, http.MethodGet, projectPath(id, "/events"), "", "", nil)
	require.Equal(t, http.StatusOK, code)
	var events ListResponse
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Equal(t, int64(5), events.Pagination.Total)
}

func TestResolveRefundWithoutPaymentWarns(t *testing.T) {
	s := newTestServer(t)
	id := s.createAuction(t)
	_, env := s.do(t, http.MethodPost, projectPath(id, "/bids"), "inv-a", "investor", map[string]string{"amount": "1500"})
	require.True(t, env.Success, env.Message)
	_, env = s.do(t, http.MethodPost, projectPath(id, "/close-bidding"), "dev-1", "developer", nil)
	require.True(t, env.Success, env.Message)
	_, env = s.do(t, http.MethodPost, projectPath(id, "/delivery/submit"), "dev-1", "developer", map[string]string{
		"delivery_url":   "https://git.example.com/inventory",
		"delivery_notes": "first cut",
	})
	require.True(t, env.Success, env.Message)

	code, env := s.do(t, http.MethodPost, projectPath(id, "/delivery/dispute"), "inv-a", "investor", map[string]string{
		"reason": "not_working",
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var opened logic.Result
	require.NoError(t, json.Unmarshal(env.Data, &opened))
	require.Len(t, opened.Disputes, 1)

	disputePath := "/disputes/" + jsonInt(opened.Disputes[0].Id) + "/resolve"
	code, env = s.do(t, http.MethodPost, disputePath, "inv-a", "investor", map[string]string{"resolution": "refund_investor", "admin_notes": "delivery never ran"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPost, disputePath, "admin-1", "admin", map[string]string{"resolution": "refund_investor", "admin_notes": "delivery never ran"})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, logic.RefundFailedWarning, env.Message)

	var resolved logic.Result
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	require.Len(t, resolved.Warnings, 1)
	assert.Equal(t, logic.KindExternalDependency, resolved.Warnings[0].Kind)
	assert.Equal(t, "closed", string(resolved.Project.Status))

	code, env = s.do(t, http.MethodPost, disputePath, "admin-1", "admin", map[string]string{"resolution": "refund_investor", "admin_notes": "delivery never ran"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(logic.KindAlreadyResolved), env.Kind)
}

func TestGrantCreditsRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodPost, "/developers/dev-1/credits", "dev-1", "developer", map[string]int{"count": 3})
	assert.Equal(t, http.StatusForbidden, code)

	code, env := s.do(t, http.MethodPost, "/developers/dev-1/credits", "admin-1", "admin", map[string]int{"count": 3})
	require.Equal(t, http.StatusOK, code, env.Message)
	var out struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, int64(3), out.Balance)
}
