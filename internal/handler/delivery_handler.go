package handler

import (
	"context"
	"net/http"

	"github.com/blues/pes/internal/logic"
	"github.com/gin-gonic/gin"
)

type DeliveryHandler struct {
	deliveries *logic.DeliveryLogic
}

func NewDeliveryHandler(engine *logic.Engine) *DeliveryHandler {
	return &DeliveryHandler{deliveries: engine.Deliveries}
}

type deliveryCall func(ctx context.Context, actor logic.Actor, projectId int64) (*logic.Result, error)

// run 解析身份与项目 id 后执行交付操作
func (h *DeliveryHandler) run(c *gin.Context, message string, call deliveryCall) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	result, err := call(c.Request.Context(), actor, id)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, message, result)
}

// Submit 提交交付
func (h *DeliveryHandler) Submit(c *gin.Context) {
	var req logic.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}
	h.run(c, "delivery submitted", func(ctx context.Context, actor logic.Actor, id int64) (*logic.Result, error) {
		return h.deliveries.Submit(ctx, actor, id, req)
	})
}

// Approve 验收
func (h *DeliveryHandler) Approve(c *gin.Context) {
	var req FeedbackRequest
	// 验收意见可选，允许空请求体
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	h.run(c, "delivery approved", func(ctx context.Context, actor logic.Actor, id int64) (*logic.Result, error) {
		return h.deliveries.Approve(ctx, actor, id, req.Feedback)
	})
}

// RequestChanges 要求修改
func (h *DeliveryHandler) RequestChanges(c *gin.Context) {
	var req FeedbackRequest
	if !bindJSON(c, &req) {
		return
	}
	h.run(c, "changes requested", func(ctx context.Context, actor logic.Actor, id int64) (*logic.Result, error) {
		return h.deliveries.RequestChanges(ctx, actor, id, req.Feedback)
	})
}

// OpenDispute 发起争议
func (h *DeliveryHandler) OpenDispute(c *gin.Context) {
	var req logic.DisputeRequest
	if !bindJSON(c, &req) {
		return
	}
	h.run(c, "dispute opened", func(ctx context.Context, actor logic.Actor, id int64) (*logic.Result, error) {
		return h.deliveries.OpenDispute(ctx, actor, id, req)
	})
}
