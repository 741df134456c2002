package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/metrics"
	"github.com/blues/pes/internal/model"
	"github.com/blues/pes/internal/money"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProjectLogic 项目业务逻辑
type ProjectLogic struct {
	*base
	entitlement gateway.Entitlement
}

// CreateProjectRequest 发布项目参数
type CreateProjectRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ListingType model.ListingType `json:"listing_type"`
	Budget      decimal.Decimal   `json:"budget"`
	LowestBid   *decimal.Decimal  `json:"lowest_bid,omitempty"`
}

// validate 校验发布参数
func (r *CreateProjectRequest) validate(op string) error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return validationError(op, "title is required")
	}
	if err := money.Validate(r.Budget); err != nil {
		return validationError(op, "budget: %v", err)
	}
	if !money.IsCents(r.Budget) {
		return validationError(op, "budget must have at most 2 decimal places")
	}
	switch r.ListingType {
	case model.ListingTypeAuction:
		if r.LowestBid == nil {
			return validationError(op, "auction listing requires lowest_bid")
		}
		if err := money.Validate(*r.LowestBid); err != nil {
			return validationError(op, "lowest_bid: %v", err)
		}
	case model.ListingTypeFixedPrice:
		if r.LowestBid != nil {
			return validationError(op, "fixed price listing does not take lowest_bid")
		}
	default:
		return validationError(op, "unknown listing type %q", r.ListingType)
	}
	return nil
}

// CreateProject 发布项目，消耗一个发布额度
func (p *ProjectLogic) CreateProject(ctx context.Context, actor Actor, req CreateProjectRequest) (project *model.ProjectModel, err error) {
	const op = "CreateProject"
	defer func() { metrics.ObserveOperation(op, err, func(e error) string { return string(KindOf(e)) }) }()

	if err := actor.require(op, RoleDeveloper); err != nil {
		return nil, err
	}
	if err := req.validate(op); err != nil {
		return nil, err
	}

	if p.entitlement != nil {
		if err := p.entitlement.ConsumePostingCredit(ctx, actor.Id); err != nil {
			if errors.Is(err, gateway.ErrInsufficientCredit) {
				return nil, newError(KindInsufficientCredit, op, "developer %s has no posting credit", actor.Id)
			}
			return nil, externalError(op, err, "consume posting credit")
		}
	}

	project = &model.ProjectModel{
		Title:       req.Title,
		Description: req.Description,
		DeveloperId: actor.Id,
		ListingType: req.ListingType,
		Budget:      money.Round2(req.Budget),
		Status:      model.ProjectStatusOpen,
		Version:     1,
	}
	if req.ListingType == model.ListingTypeFixedPrice {
		project.Status = model.ProjectStatusFixedPrice
	} else {
		floor := money.Round2(*req.LowestBid)
		project.LowestBid = &floor
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		return recordEvent(tx, project.Id, "create", "", project.Status, actor, req)
	})
	if err != nil {
		if p.entitlement != nil {
			if rerr := p.entitlement.RestorePostingCredit(ctx, actor.Id); rerr != nil {
				logger.Error("Failed to restore posting credit for %s: %v", actor.Id, rerr)
			}
		}
		return nil, err
	}

	logger.Info("Project %d created by %s (%s, budget %s)", project.Id, actor.Id, project.ListingType, project.Budget.StringFixed(2))
	return project, nil
}

// GetProject 获取项目聚合
func (p *ProjectLogic) GetProject(ctx context.Context, id int64) (*Aggregate, error) {
	return loadAggregate(p.db.WithContext(ctx), id)
}

// ProjectFilter 项目列表查询条件
type ProjectFilter struct {
	Status           model.ProjectStatus
	ListingType      model.ListingType
	DeveloperId      string
	AssignedInvestor string
	Page             int
	PageSize         int
}

// ListProjects 分页获取项目列表
func (p *ProjectLogic) ListProjects(ctx context.Context, f ProjectFilter) ([]model.ProjectModel, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}

	q := p.db.WithContext(ctx).Model(&model.ProjectModel{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ListingType != "" {
		q = q.Where("listing_type = ?", f.ListingType)
	}
	if f.DeveloperId != "" {
		q = q.Where("developer_id = ?", f.DeveloperId)
	}
	if f.AssignedInvestor != "" {
		q = q.Where("assigned_investor = ?", f.AssignedInvestor)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	var projects []model.ProjectModel
	if err := q.Order("id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&projects).Error; err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	return projects, total, nil
}

// PlatformStats 平台统计
type PlatformStats struct {
	ProjectsByStatus map[model.ProjectStatus]int64 `json:"projects_by_status"`
	PayoutsByStatus  map[model.PayoutStatus]int64  `json:"payouts_by_status"`
	OpenDisputes     int64                         `json:"open_disputes"`
	EscrowTotal      decimal.Decimal               `json:"escrow_total"`
	CommissionTotal  decimal.Decimal               `json:"commission_total"` // 已到账打款的平台佣金
	PaidOutTotal     decimal.Decimal               `json:"paid_out_total"`
}

type statusCount struct {
	Status string
	Count  int64
}

// GetStats 获取平台统计信息
func (p *ProjectLogic) GetStats(ctx context.Context) (*PlatformStats, error) {
	db := p.db.WithContext(ctx)
	stats := &PlatformStats{
		ProjectsByStatus: make(map[model.ProjectStatus]int64),
		PayoutsByStatus:  make(map[model.PayoutStatus]int64),
	}

	var rows []statusCount
	if err := db.Model(&model.ProjectModel{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count projects by status: %w", err)
	}
	for _, r := range rows {
		stats.ProjectsByStatus[model.ProjectStatus(r.Status)] = r.Count
	}

	rows = nil
	if err := db.Model(&model.PayoutModel{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count payouts by status: %w", err)
	}
	for _, r := range rows {
		stats.PayoutsByStatus[model.PayoutStatus(r.Status)] = r.Count
	}

	if err := db.Model(&model.DisputeModel{}).Where("status = ?", model.DisputeStatusOpen).Count(&stats.OpenDisputes).Error; err != nil {
		return nil, fmt.Errorf("count open disputes: %w", err)
	}

	var escrows []model.EscrowRecordModel
	if err := db.Select("total_charged").Find(&escrows).Error; err != nil {
		return nil, fmt.Errorf("sum escrow: %w", err)
	}
	stats.EscrowTotal = decimal.Zero
	for _, e := range escrows {
		stats.EscrowTotal = stats.EscrowTotal.Add(e.TotalCharged)
	}

	var payouts []model.PayoutModel
	if err := db.Select("platform_fee, net_amount").Where("status = ?", model.PayoutStatusCompleted).Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("sum payouts: %w", err)
	}
	stats.CommissionTotal, stats.PaidOutTotal = decimal.Zero, decimal.Zero
	for _, po := range payouts {
		stats.CommissionTotal = stats.CommissionTotal.Add(po.PlatformFee)
		stats.PaidOutTotal = stats.PaidOutTotal.Add(po.NetAmount)
	}
	return stats, nil
}

// ConfirmFixedPricePurchase 支付方确认一口价购买完成，项目进入开发阶段
func (p *ProjectLogic) ConfirmFixedPricePurchase(ctx context.Context, actor Actor, projectId int64, investorId string) (*Result, error) {
	const op = "ConfirmFixedPricePurchase"
	if err := actor.require(op, RoleAdmin, RoleSystem); err != nil {
		return nil, err
	}
	investorId = strings.TrimSpace(investorId)
	if investorId == "" {
		return nil, validationError(op, "investor_id is required")
	}

	agg, err := p.mutate(ctx, op, projectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		if project.ListingType == model.ListingTypeFixedPrice && project.AssignedInvestor != "" {
			return conflictError(op, "project %d was already purchased by %s", project.Id, project.AssignedInvestor)
		}
		if investorId == project.DeveloperId {
			return validationError(op, "developer cannot purchase own project")
		}
		from := project.Status
		to, err := nextProjectStatus(op, from, ActionPurchaseCompleted)
		if err != nil {
			return err
		}
		project.Status = to
		project.AssignedInvestor = investorId

		if _, err := createDelivery(tx, project.Id, 1); err != nil {
			return err
		}
		if err := createEscrow(tx, project, model.EscrowSourceFixedPrice); err != nil {
			return err
		}
		return recordEvent(tx, project.Id, string(ActionPurchaseCompleted), from, to, actor, map[string]string{"investor_id": investorId})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Fixed price project %d purchased by %s", projectId, investorId)
	return &Result{Aggregate: agg}, nil
}
