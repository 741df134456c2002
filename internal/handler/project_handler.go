package handler

import (
	"net/http"

	"github.com/blues/pes/internal/logic"
	"github.com/blues/pes/internal/model"
	"github.com/gin-gonic/gin"
)

type ProjectHandler struct {
	engine *logic.Engine
}

func NewProjectHandler(engine *logic.Engine) *ProjectHandler {
	return &ProjectHandler{engine: engine}
}

// CreateProject 发布项目
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req logic.CreateProjectRequest
	if !bindJSON(c, &req) {
		return
	}

	project, err := h.engine.Projects.CreateProject(c.Request.Context(), actor, req)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "project created", project)
}

// GetProjects 获取项目列表
func (h *ProjectHandler) GetProjects(c *gin.Context) {
	page, pageSize := pageParams(c)
	projects, total, err := h.engine.Projects.ListProjects(c.Request.Context(), logic.ProjectFilter{
		Status:           model.ProjectStatus(c.Query("status")),
		ListingType:      model.ListingType(c.Query("listing_type")),
		DeveloperId:      c.Query("developer_id"),
		AssignedInvestor: c.Query("investor_id"),
		Page:             page,
		PageSize:         pageSize,
	})
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", ListResponse{Items: projects, Pagination: newPagination(page, pageSize, total)})
}

// GetProject 获取项目聚合
func (h *ProjectHandler) GetProject(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	agg, err := h.engine.Projects.GetProject(c.Request.Context(), id)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", agg)
}

// GetProjectEvents 获取项目审计记录
func (h *ProjectHandler) GetProjectEvents(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	events, total, err := h.engine.Events.GetEvents(c.Request.Context(), id, c.Query("action"), page, pageSize)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", ListResponse{Items: events, Pagination: newPagination(page, pageSize, total)})
}

// GetProjectRefunds 获取项目退款记录
func (h *ProjectHandler) GetProjectRefunds(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	refunds, total, err := h.engine.Refunds.GetProjectRefunds(c.Request.Context(), id, page, pageSize)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", ListResponse{Items: refunds, Pagination: newPagination(page, pageSize, total)})
}

// PlaceBid 出价
func (h *ProjectHandler) PlaceBid(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req PlaceBidRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.engine.Auctions.PlaceBid(c.Request.Context(), actor, id, req.Amount)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "bid placed", result)
}

// CloseBidding 结束竞拍
func (h *ProjectHandler) CloseBidding(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	result, err := h.engine.Auctions.CloseBidding(c.Request.Context(), actor, id)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "bidding closed", result)
}

// ConfirmPurchase 支付方回调：一口价购买完成
func (h *ProjectHandler) ConfirmPurchase(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.engine.Projects.ConfirmFixedPricePurchase(c.Request.Context(), actor, id, req.InvestorId)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "purchase confirmed", result)
}

// GetStats 平台统计
func (h *ProjectHandler) GetStats(c *gin.Context) {
	stats, err := h.engine.Projects.GetStats(c.Request.Context())
	if err != nil {
		LogicError(c, err)
		return
	}
	refunds, err := h.engine.Refunds.GetRefundStats(c.Request.Context(), 0)
	if err != nil {
		LogicError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", gin.H{
		"platform": stats,
		"refunds":  refunds,
	})
}
