package handler

import (
	"errors"
	"net/http"

	"github.com/blues/pes/internal/logic"
	"github.com/gin-gonic/gin"
)

type DisputeHandler struct {
	disputes *logic.DisputeLogic
}

func NewDisputeHandler(engine *logic.Engine) *DisputeHandler {
	return &DisputeHandler{disputes: engine.Disputes}
}

// ListOpen 待裁决争议
func (h *DisputeHandler) ListOpen(c *gin.Context) {
	disputes, err := h.disputes.ListOpenDisputes(c.Request.Context())
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", disputes)
}

// GetDispute 争议详情
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	dispute, err := h.disputes.GetDispute(c.Request.Context(), id)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", dispute)
}

// Resolve 裁决，退款失败时仍返回成功并附带 warnings
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req logic.ResolveRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.disputes.Resolve(c.Request.Context(), actor, id, req)
	if err != nil {
		LogicError(c, err)
		return
	}
	message := "dispute resolved"
	if len(result.Warnings) > 0 {
		message = result.Warnings[0].Message
	}
	SuccessResponse(c, http.StatusOK, message, result)
}

// RetryRefund 重新发起失败的退款
func (h *DisputeHandler) RetryRefund(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	refund, err := h.disputes.RetryRefund(c.Request.Context(), actor, id)
	if err != nil {
		var le *logic.Error
		if refund != nil && errors.As(err, &le) && le.Kind == logic.KindExternalDependency {
			c.JSON(http.StatusBadGateway, Response{Success: false, Message: err.Error(), Kind: string(le.Kind), Data: refund})
			return
		}
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "refund issued", refund)
}
