package handler

import (
	"context"
	"net/http"

	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/logic"
	"github.com/blues/pes/internal/model"
	"github.com/gin-gonic/gin"
)

type PayoutHandler struct {
	payouts *logic.PayoutLogic
	credits *gateway.CreditLedger
}

func NewPayoutHandler(engine *logic.Engine, credits *gateway.CreditLedger) *PayoutHandler {
	return &PayoutHandler{payouts: engine.Payouts, credits: credits}
}

type payoutCall func(ctx context.Context, actor logic.Actor, id int64) (*model.PayoutModel, error)

func (h *PayoutHandler) run(c *gin.Context, message string, call payoutCall) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	payout, err := call(c.Request.Context(), actor, id)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, message, payout)
}

// GetPayout 打款详情
func (h *PayoutHandler) GetPayout(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	payout, err := h.payouts.GetPayout(c.Request.Context(), id)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", payout)
}

// MarkProcessing 标记打款中
func (h *PayoutHandler) MarkProcessing(c *gin.Context) {
	var req ProcessingRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	h.run(c, "payout processing", func(ctx context.Context, actor logic.Actor, id int64) (*model.PayoutModel, error) {
		return h.payouts.MarkProcessing(ctx, actor, id, req.TransactionRef)
	})
}

// Complete 标记到账
func (h *PayoutHandler) Complete(c *gin.Context) {
	var req CompleteRequest
	if !bindJSON(c, &req) {
		return
	}
	h.run(c, "payout completed", func(ctx context.Context, actor logic.Actor, id int64) (*model.PayoutModel, error) {
		return h.payouts.Complete(ctx, actor, id, req.TransactionId, req.Notes)
	})
}

// Fail 标记失败
func (h *PayoutHandler) Fail(c *gin.Context) {
	var req ReasonRequest
	if !bindJSON(c, &req) {
		return
	}
	h.run(c, "payout failed", func(ctx context.Context, actor logic.Actor, id int64) (*model.PayoutModel, error) {
		return h.payouts.Fail(ctx, actor, id, req.Reason)
	})
}

// Retry 重试
func (h *PayoutHandler) Retry(c *gin.Context) {
	h.run(c, "payout retried", func(ctx context.Context, actor logic.Actor, id int64) (*model.PayoutModel, error) {
		return h.payouts.Retry(ctx, actor, id)
	})
}

// Cancel 取消
func (h *PayoutHandler) Cancel(c *gin.Context) {
	var req ReasonRequest
	if !bindJSON(c, &req) {
		return
	}
	h.run(c, "payout cancelled", func(ctx context.Context, actor logic.Actor, id int64) (*model.PayoutModel, error) {
		return h.payouts.Cancel(ctx, actor, id, req.Reason)
	})
}

// SetPayoutProfile 开发者设置收款方式
func (h *PayoutHandler) SetPayoutProfile(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req PayoutProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	profile, err := h.payouts.SetPayoutProfile(c.Request.Context(), actor, req.Method, req.Destination)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "payout profile saved", profile)
}

// GetPayoutProfile 开发者当前收款方式
func (h *PayoutHandler) GetPayoutProfile(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	profile, err := h.payouts.GetPayoutProfile(c.Request.Context(), actor.Id)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", profile)
}

// ListMyPayouts 开发者的打款记录
func (h *PayoutHandler) ListMyPayouts(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	payouts, err := h.payouts.ListDeveloperPayouts(c.Request.Context(), actor.Id)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", payouts)
}

// GrantCredits 管理员为开发者发放发布额度
func (h *PayoutHandler) GrantCredits(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if actor.Role != logic.RoleAdmin {
		ErrorResponse(c, http.StatusForbidden, "admin role required")
		return
	}
	var req GrantCreditsRequest
	if !bindJSON(c, &req) {
		return
	}
	developerId := c.Param("id")
	if err := h.credits.Grant(c.Request.Context(), developerId, req.Count); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := h.credits.Balance(c.Request.Context(), developerId)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "credits granted", gin.H{"developer_id": developerId, "balance": balance})
}
