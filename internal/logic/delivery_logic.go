package logic

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/model"
	"github.com/blues/pes/internal/money"
	"gorm.io/gorm"
)

// DeliveryLogic 交付业务逻辑
type DeliveryLogic struct {
	*base
}

// SubmitRequest 开发者提交交付
type SubmitRequest struct {
	DeliveryURL   string `json:"delivery_url"`
	DeliveryNotes string `json:"delivery_notes"`
}

// DisputeRequest 发起争议
type DisputeRequest struct {
	Reason model.DisputeReason `json:"reason"`
	Notes  string              `json:"notes"`
}

// Submit 开发者提交交付，按项目预算冻结金额
func (d *DeliveryLogic) Submit(ctx context.Context, actor Actor, projectId int64, req SubmitRequest) (*Result, error) {
	const op = "SubmitDelivery"
	if err := actor.require(op, RoleDeveloper); err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(req.DeliveryNotes)
	if notes == "" {
		return nil, validationError(op, "delivery_notes is required")
	}
	link := strings.TrimSpace(req.DeliveryURL)
	if link != "" {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, validationError(op, "delivery_url must be an http(s) URL")
		}
	}

	agg, err := d.mutate(ctx, op, projectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		if project.DeveloperId != actor.Id {
			return forbiddenError(op, "only the owning developer can submit")
		}
		delivery, err := activeDelivery(tx, op, project.Id)
		if err != nil {
			return err
		}
		to, err := nextDeliveryStatus(op, delivery.Status, DeliverySubmit)
		if err != nil {
			return err
		}
		split, err := money.SplitAmount(project.Budget)
		if err != nil {
			return validationError(op, "budget: %v", err)
		}

		now := d.now()
		if err := tx.Model(delivery).Updates(map[string]interface{}{
			"status":              to,
			"delivery_url":        link,
			"delivery_notes":      notes,
			"submitted_at":        now,
			"project_amount":      split.ProjectAmount,
			"platform_commission": split.PlatformCommission,
			"developer_payout":    split.DeveloperPayout,
		}).Error; err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
		return recordEvent(tx, project.Id, "submit_delivery", project.Status, project.Status, actor, map[string]interface{}{
			"delivery_id": delivery.Id,
			"sequence":    delivery.Sequence,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Delivery submitted for project %d", projectId)
	return &Result{Aggregate: agg}, nil
}

// Approve 投资人验收，生成打款记录并结束项目
func (d *DeliveryLogic) Approve(ctx context.Context, actor Actor, projectId int64, feedback string) (*Result, error) {
	const op = "ApproveDelivery"
	if err := actor.require(op, RoleInvestor); err != nil {
		return nil, err
	}

	var payoutId int64
	agg, err := d.mutate(ctx, op, projectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		if project.AssignedInvestor != actor.Id {
			return forbiddenError(op, "only the assigned investor can approve")
		}
		delivery, err := activeDelivery(tx, op, project.Id)
		if err != nil {
			return err
		}
		dTo, err := nextDeliveryStatus(op, delivery.Status, DeliveryApprove)
		if err != nil {
			return err
		}
		from := project.Status
		pTo, err := nextProjectStatus(op, from, ActionDeliveryApproved)
		if err != nil {
			return err
		}

		now := d.now()
		if err := tx.Model(delivery).Updates(map[string]interface{}{
			"status":     dTo,
			"feedback":   strings.TrimSpace(feedback),
			"decided_at": now,
		}).Error; err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
		payout, err := createPayout(tx, project, delivery)
		if err != nil {
			return err
		}
		payoutId = payout.Id
		project.Status = pTo

		return recordEvent(tx, project.Id, string(ActionDeliveryApproved), from, pTo, actor, map[string]interface{}{
			"delivery_id": delivery.Id,
			"payout_id":   payout.Id,
			"net_amount":  payout.NetAmount.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Delivery approved for project %d, payout %d created", projectId, payoutId)
	d.notifyPayout(payoutId)
	return &Result{Aggregate: agg}, nil
}

// RequestChanges 投资人要求修改，交付退回待提交，不涉及资金
func (d *DeliveryLogic) RequestChanges(ctx context.Context, actor Actor, projectId int64, feedback string) (*Result, error) {
	const op = "RequestChanges"
	if err := actor.require(op, RoleInvestor); err != nil {
		return nil, err
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, validationError(op, "feedback is required")
	}

	agg, err := d.mutate(ctx, op, projectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		if project.AssignedInvestor != actor.Id {
			return forbiddenError(op, "only the assigned investor can request changes")
		}
		delivery, err := activeDelivery(tx, op, project.Id)
		if err != nil {
			return err
		}
		to, err := nextDeliveryStatus(op, delivery.Status, DeliveryRequestChanges)
		if err != nil {
			return err
		}
		if err := tx.Model(delivery).Updates(map[string]interface{}{
			"status":         to,
			"feedback":       feedback,
			"revision_count": delivery.RevisionCount + 1,
			"decided_at":     d.now(),
		}).Error; err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
		return recordEvent(tx, project.Id, "request_changes", project.Status, project.Status, actor, map[string]interface{}{
			"delivery_id": delivery.Id,
			"revision":    delivery.RevisionCount + 1,
		})
	})
	if err != nil {
		return nil, err
	}
	return &Result{Aggregate: agg}, nil
}

// OpenDispute 开发者或投资人对已提交的交付发起争议
func (d *DeliveryLogic) OpenDispute(ctx context.Context, actor Actor, projectId int64, req DisputeRequest) (*Result, error) {
	const op = "OpenDispute"
	if err := actor.require(op, RoleDeveloper, RoleInvestor); err != nil {
		return nil, err
	}
	if !req.Reason.Valid() {
		return nil, validationError(op, "unknown dispute reason %q", req.Reason)
	}
	notes := strings.TrimSpace(req.Notes)

	var disputeId int64
	agg, err := d.mutate(ctx, op, projectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		if (actor.Role == RoleDeveloper && project.DeveloperId != actor.Id) ||
			(actor.Role == RoleInvestor && project.AssignedInvestor != actor.Id) {
			return forbiddenError(op, "only parties to the project can open a dispute")
		}
		delivery, err := activeDelivery(tx, op, project.Id)
		if err != nil {
			return err
		}
		dTo, err := nextDeliveryStatus(op, delivery.Status, DeliveryOpenDispute)
		if err != nil {
			return err
		}
		from := project.Status
		pTo, err := nextProjectStatus(op, from, ActionDeliveryDisputed)
		if err != nil {
			return err
		}

		if err := tx.Model(delivery).Updates(map[string]interface{}{
			"status":         dTo,
			"dispute_reason": req.Reason,
			"dispute_notes":  notes,
		}).Error; err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
		dispute := &model.DisputeModel{
			ProjectId:  project.Id,
			DeliveryId: delivery.Id,
			OpenedBy:   string(actor.Role),
			OpenedById: actor.Id,
			Reason:     req.Reason,
			Notes:      notes,
			Status:     model.DisputeStatusOpen,
		}
		if err := tx.Create(dispute).Error; err != nil {
			return fmt.Errorf("create dispute: %w", err)
		}
		disputeId = dispute.Id
		project.Status = pTo

		return recordEvent(tx, project.Id, string(ActionDeliveryDisputed), from, pTo, actor, map[string]interface{}{
			"delivery_id": delivery.Id,
			"dispute_id":  dispute.Id,
			"reason":      req.Reason,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Warn("Dispute %d opened on project %d by %s (%s)", disputeId, projectId, actor.Id, req.Reason)
	return &Result{Aggregate: agg}, nil
}
