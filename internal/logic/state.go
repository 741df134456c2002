package logic

import "github.com/blues/pes/internal/model"

// ProjectAction 项目状态机动作
type ProjectAction string

const (
	ActionCloseBidding      ProjectAction = "close_bidding"
	ActionPurchaseCompleted ProjectAction = "purchase_completed"
	ActionDeliveryDisputed  ProjectAction = "delivery_disputed"
	ActionResolvedContinue  ProjectAction = "resolved_continue"
	ActionResolvedTerminal  ProjectAction = "resolved_terminal"
	ActionDeliveryApproved  ProjectAction = "delivery_approved"
)

var projectTransitions = map[model.ProjectStatus]map[ProjectAction]model.ProjectStatus{
	model.ProjectStatusOpen: {
		ActionCloseBidding: model.ProjectStatusInProgress,
	},
	model.ProjectStatusFixedPrice: {
		ActionPurchaseCompleted: model.ProjectStatusInProgress,
	},
	model.ProjectStatusInProgress: {
		ActionDeliveryDisputed: model.ProjectStatusDisputed,
		ActionDeliveryApproved: model.ProjectStatusClosed,
	},
	model.ProjectStatusDisputed: {
		ActionResolvedContinue: model.ProjectStatusInProgress,
		ActionResolvedTerminal: model.ProjectStatusClosed,
	},
}

// nextProjectStatus 查表，非法迁移返回 InvalidStateTransition
func nextProjectStatus(op string, from model.ProjectStatus, action ProjectAction) (model.ProjectStatus, error) {
	if to, ok := projectTransitions[from][action]; ok {
		return to, nil
	}
	return "", transitionError(op, "project cannot %s from %s", action, from)
}

// DeliveryAction 交付状态机动作
type DeliveryAction string

const (
	DeliverySubmit         DeliveryAction = "submit"
	DeliveryApprove        DeliveryAction = "approve"
	DeliveryRequestChanges DeliveryAction = "request_changes"
	DeliveryOpenDispute    DeliveryAction = "open_dispute"
	DeliveryAward          DeliveryAction = "award_developer" // 裁决款项归开发者
	DeliveryResolve        DeliveryAction = "resolve"         // 裁决退款或继续开发
)

var deliveryTransitions = map[model.DeliveryStatus]map[DeliveryAction]model.DeliveryStatus{
	model.DeliveryStatusPending: {
		DeliverySubmit: model.DeliveryStatusSubmitted,
	},
	model.DeliveryStatusSubmitted: {
		DeliveryApprove:        model.DeliveryStatusApproved,
		DeliveryRequestChanges: model.DeliveryStatusPending,
		DeliveryOpenDispute:    model.DeliveryStatusDisputed,
	},
	model.DeliveryStatusDisputed: {
		DeliveryAward:   model.DeliveryStatusApproved,
		DeliveryResolve: model.DeliveryStatusResolved,
	},
}

func nextDeliveryStatus(op string, from model.DeliveryStatus, action DeliveryAction) (model.DeliveryStatus, error) {
	if to, ok := deliveryTransitions[from][action]; ok {
		return to, nil
	}
	return "", transitionError(op, "delivery cannot %s from %s", action, from)
}

// PayoutAction 打款状态机动作
type PayoutAction string

const (
	PayoutMarkProcessing PayoutAction = "mark_processing"
	PayoutComplete       PayoutAction = "complete"
	PayoutFail           PayoutAction = "fail"
	PayoutRetry          PayoutAction = "retry"
	PayoutCancel         PayoutAction = "cancel"
)

var payoutTransitions = map[model.PayoutStatus]map[PayoutAction]model.PayoutStatus{
	model.PayoutStatusPending: {
		PayoutMarkProcessing: model.PayoutStatusProcessing,
		PayoutComplete:       model.PayoutStatusCompleted,
		PayoutFail:           model.PayoutStatusFailed,
		PayoutCancel:         model.PayoutStatusCancelled,
	},
	model.PayoutStatusProcessing: {
		PayoutComplete: model.PayoutStatusCompleted,
		PayoutFail:     model.PayoutStatusFailed,
		PayoutCancel:   model.PayoutStatusCancelled,
	},
	model.PayoutStatusFailed: {
		PayoutFail:   model.PayoutStatusFailed,
		PayoutRetry:  model.PayoutStatusPending,
		PayoutCancel: model.PayoutStatusCancelled,
	},
}

func nextPayoutStatus(op string, from model.PayoutStatus, action PayoutAction) (model.PayoutStatus, error) {
	if to, ok := payoutTransitions[from][action]; ok {
		return to, nil
	}
	return "", transitionError(op, "payout cannot %s from %s", action, from)
}
