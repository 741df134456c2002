package logic

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blues/pes/internal/model"
	"github.com/blues/pes/internal/money"
	"gorm.io/gorm"
)

// Aggregate 项目及其名下的交付、出价、争议、打款
type Aggregate struct {
	Project         model.ProjectModel        `json:"project"`
	HasOpenDelivery bool                      `json:"has_open_delivery"`
	ActiveDelivery  *model.DeliveryModel      `json:"active_delivery,omitempty"`
	Deliveries      []model.DeliveryModel     `json:"deliveries"`
	Bids            []model.BidModel          `json:"bids"`
	Disputes        []model.DisputeModel      `json:"disputes"`
	Payouts         []model.PayoutModel       `json:"payouts"`
	Refunds         []model.RefundRecordModel `json:"refunds"`
	Escrow          *model.EscrowRecordModel  `json:"escrow,omitempty"`
}

// Warning 操作已生效，但外部协作方调用失败
type Warning struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Result 写操作结果
type Result struct {
	*Aggregate
	Warnings []Warning `json:"warnings,omitempty"`
}

func (r *Result) warn(kind ErrorKind, message string) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: message})
}

// loadAggregate 读取项目聚合，事务内调用时传入 tx
func loadAggregate(db *gorm.DB, projectId int64) (*Aggregate, error) {
	agg := &Aggregate{}
	if err := db.First(&agg.Project, projectId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("LoadProject", "project %d not found", projectId)
		}
		return nil, fmt.Errorf("load project %d: %w", projectId, err)
	}
	if err := db.Where("project_id = ?", projectId).Order("sequence ASC").Find(&agg.Deliveries).Error; err != nil {
		return nil, fmt.Errorf("load deliveries: %w", err)
	}
	if err := db.Where("project_id = ?", projectId).Order("placed_at ASC, id ASC").Find(&agg.Bids).Error; err != nil {
		return nil, fmt.Errorf("load bids: %w", err)
	}
	if err := db.Where("project_id = ?", projectId).Order("id ASC").Find(&agg.Disputes).Error; err != nil {
		return nil, fmt.Errorf("load disputes: %w", err)
	}
	if err := db.Where("project_id = ?", projectId).Order("id ASC").Find(&agg.Payouts).Error; err != nil {
		return nil, fmt.Errorf("load payouts: %w", err)
	}
	if err := db.Where("project_id = ?", projectId).Order("id ASC").Find(&agg.Refunds).Error; err != nil {
		return nil, fmt.Errorf("load refunds: %w", err)
	}

	var escrow model.EscrowRecordModel
	err := db.Where("project_id = ?", projectId).First(&escrow).Error
	switch {
	case err == nil:
		agg.Escrow = &escrow
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load escrow: %w", err)
	}

	for i := range agg.Deliveries {
		d := &agg.Deliveries[i]
		if !d.Archived && d.Status.IsOpen() {
			agg.HasOpenDelivery = true
		}
		if !d.Archived {
			agg.ActiveDelivery = d
		}
	}
	return agg, nil
}

// activeDelivery 事务内读取未归档的交付
func activeDelivery(tx *gorm.DB, op string, projectId int64) (*model.DeliveryModel, error) {
	var d model.DeliveryModel
	err := tx.Where("project_id = ? AND archived = ?", projectId, false).
		Order("sequence DESC").
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, transitionError(op, "project %d has no active delivery", projectId)
		}
		return nil, fmt.Errorf("load active delivery: %w", err)
	}
	return &d, nil
}

// createDelivery 项目进入开发阶段时创建新的待提交交付
func createDelivery(tx *gorm.DB, projectId int64, sequence int) (*model.DeliveryModel, error) {
	d := &model.DeliveryModel{
		ProjectId: projectId,
		Sequence:  sequence,
		Status:    model.DeliveryStatusPending,
	}
	if err := tx.Create(d).Error; err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	return d, nil
}

// createEscrow 记录投资人托管入账
func createEscrow(tx *gorm.DB, project *model.ProjectModel, source model.EscrowSource) error {
	amount := project.Budget
	if source == model.EscrowSourceAuction && project.HighestBid != nil {
		amount = *project.HighestBid
	}
	commission, err := money.Commission(amount)
	if err != nil {
		return fmt.Errorf("escrow commission: %w", err)
	}
	record := &model.EscrowRecordModel{
		ProjectId:    project.Id,
		InvestorId:   project.AssignedInvestor,
		Source:       source,
		Amount:       money.Round2(amount),
		TotalCharged: money.Round2(amount),
	}
	if source == model.EscrowSourceFixedPrice {
		total, err := money.FixedPriceCheckoutTotal(amount)
		if err != nil {
			return fmt.Errorf("escrow total: %w", err)
		}
		record.Commission = commission
		record.FixedFee = money.FixedPriceFee
		record.TotalCharged = total
	}
	if err := tx.Create(record).Error; err != nil {
		return fmt.Errorf("create escrow record: %w", err)
	}
	return nil
}

// createPayout 以交付冻结的金额生成打款记录，收款方式取开发者当前资料
func createPayout(tx *gorm.DB, project *model.ProjectModel, d *model.DeliveryModel) (*model.PayoutModel, error) {
	var existing int64
	if err := tx.Model(&model.PayoutModel{}).Where("delivery_id = ?", d.Id).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check payout: %w", err)
	}
	if existing > 0 {
		return nil, conflictError("CreatePayout", "delivery %d already has a payout", d.Id)
	}

	p := &model.PayoutModel{
		ProjectId:   project.Id,
		DeliveryId:  d.Id,
		DeveloperId: project.DeveloperId,
		GrossAmount: d.ProjectAmount,
		PlatformFee: d.PlatformCommission,
		NetAmount:   d.DeveloperPayout,
		Status:      model.PayoutStatusPending,
	}

	var profile model.PayoutProfileModel
	err := tx.Where("developer_id = ?", project.DeveloperId).First(&profile).Error
	switch {
	case err == nil:
		p.PayoutMethod = profile.Method
		p.Destination = profile.Destination
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load payout profile: %w", err)
	}

	if err := tx.Create(p).Error; err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}
	return p, nil
}

// recordEvent 追加审计记录
func recordEvent(tx *gorm.DB, projectId int64, action string, from, to model.ProjectStatus, actor Actor, data interface{}) error {
	ev := &model.ProjectEventModel{
		ProjectId:  projectId,
		Action:     action,
		FromStatus: string(from),
		ToStatus:   string(to),
		ActorId:    actor.Id,
		ActorRole:  string(actor.Role),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		ev.Data = string(raw)
	}
	if err := tx.Create(ev).Error; err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
