package logic

import (
	"context"
	"fmt"

	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/model"
	"github.com/blues/pes/internal/money"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuctionLogic 竞拍业务逻辑
type AuctionLogic struct {
	*base
}

// PlaceBid 投资人出价，必须高于当前最高价（无出价时高于底价）
func (a *AuctionLogic) PlaceBid(ctx context.Context, actor Actor, projectId int64, amount decimal.Decimal) (*Result, error) {
	const op = "PlaceBid"
	if err := actor.require(op, RoleInvestor); err != nil {
		return nil, err
	}
	if err := money.Validate(amount); err != nil {
		return nil, validationError(op, "amount: %v", err)
	}
	if !money.IsCents(amount) {
		return nil, validationError(op, "amount must have at most 2 decimal places")
	}

	agg, err := a.mutate(ctx, op, projectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		if project.Status != model.ProjectStatusOpen {
			return transitionError(op, "project %d is %s, bidding is closed", project.Id, project.Status)
		}
		if project.DeveloperId == actor.Id {
			return forbiddenError(op, "developer cannot bid on own project")
		}

		floor := project.LowestBid
		if project.HighestBid != nil {
			floor = project.HighestBid
		}
		if floor != nil && !amount.GreaterThan(*floor) {
			return validationError(op, "bid %s must exceed %s", amount.StringFixed(2), floor.StringFixed(2))
		}

		bid := &model.BidModel{
			ProjectId:  project.Id,
			InvestorId: actor.Id,
			Amount:     amount,
			PlacedAt:   a.now(),
		}
		if err := tx.Create(bid).Error; err != nil {
			return fmt.Errorf("create bid: %w", err)
		}
		highest := amount
		project.HighestBid = &highest

		return recordEvent(tx, project.Id, "place_bid", project.Status, project.Status, actor,
			map[string]string{"amount": amount.StringFixed(2)})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Bid %s placed on project %d by %s", amount.StringFixed(2), projectId, actor.Id)
	return &Result{Aggregate: agg}, nil
}

// CloseBidding 开发者结束竞拍，选出中标人并创建首个交付
func (a *AuctionLogic) CloseBidding(ctx context.Context, actor Actor, projectId int64) (*Result, error) {
	const op = "CloseBidding"
	if err := actor.require(op, RoleDeveloper); err != nil {
		return nil, err
	}

	var winner model.BidModel
	agg, err := a.mutate(ctx, op, projectId, func(tx *gorm.DB, project *model.ProjectModel) error {
		if project.DeveloperId != actor.Id {
			return forbiddenError(op, "only the owning developer can close bidding")
		}
		from := project.Status
		to, err := nextProjectStatus(op, from, ActionCloseBidding)
		if err != nil {
			return err
		}

		var bids []model.BidModel
		if err := tx.Where("project_id = ?", project.Id).Find(&bids).Error; err != nil {
			return fmt.Errorf("load bids: %w", err)
		}
		w, ok := selectWinner(bids)
		if !ok {
			return newError(KindNoBids, op, "project %d has no bids", project.Id)
		}
		winner = w

		highest := w.Amount
		project.HighestBid = &highest
		project.AssignedInvestor = w.InvestorId
		project.Status = to

		if _, err := createDelivery(tx, project.Id, 1); err != nil {
			return err
		}
		if err := createEscrow(tx, project, model.EscrowSourceAuction); err != nil {
			return err
		}
		return recordEvent(tx, project.Id, string(ActionCloseBidding), from, to, actor, map[string]interface{}{
			"winning_bid_id": w.Id,
			"investor_id":    w.InvestorId,
			"amount":         w.Amount.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Bidding closed on project %d, winner %s at %s", projectId, winner.InvestorId, winner.Amount.StringFixed(2))
	return &Result{Aggregate: agg}, nil
}

// selectWinner 最高出价胜出，同价取最早出价，再同取 id 最小
func selectWinner(bids []model.BidModel) (model.BidModel, bool) {
	if len(bids) == 0 {
		return model.BidModel{}, false
	}
	best := bids[0]
	for _, b := range bids[1:] {
		switch cmp := b.Amount.Cmp(best.Amount); {
		case cmp > 0:
			best = b
		case cmp == 0:
			if b.PlacedAt.Before(best.PlacedAt) || (b.PlacedAt.Equal(best.PlacedAt) && b.Id < best.Id) {
				best = b
			}
		}
	}
	return best, true
}

// ListBids 获取项目出价记录
func (a *AuctionLogic) ListBids(ctx context.Context, projectId int64) ([]model.BidModel, error) {
	var bids []model.BidModel
	if err := a.db.WithContext(ctx).Where("project_id = ?", projectId).Order("placed_at ASC, id ASC").Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return bids, nil
}
