package logic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blues/pes/internal/database/dbtest"
	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/lock"
	"github.com/blues/pes/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	developer = Actor{Id: "dev-1", Role: RoleDeveloper}
	investorA = Actor{Id: "inv-a", Role: RoleInvestor}
	investorB = Actor{Id: "inv-b", Role: RoleInvestor}
	admin     = Actor{Id: "admin-1", Role: RoleAdmin}
)

type fakePayment struct {
	mu    sync.Mutex
	err   error
	calls []gateway.RefundInstruction
}

func (f *fakePayment) IssueRefund(_ context.Context, in gateway.RefundInstruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return f.err
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (n *recordingNotifier) PayoutReady(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

type testEngine struct {
	*Engine
	db       *gorm.DB
	ledger   *gateway.CreditLedger
	payment  *fakePayment
	notifier *recordingNotifier
}

// steppingClock 每次调用前进一秒，保证出价时间严格递增
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	db := dbtest.New(t)
	te := &testEngine{
		db:       db,
		ledger:   gateway.NewCreditLedger(db),
		payment:  &fakePayment{},
		notifier: &recordingNotifier{},
	}
	te.Engine = New(Options{
		DB:            db,
		Locker:        lock.NewKeyedMutex(time.Second),
		Entitlement:   te.ledger,
		Payment:       te.payment,
		Notifier:      te.notifier,
		RefundTimeout: time.Second,
		Now:           steppingClock(),
	})
	return te
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func (te *testEngine) createAuction(t *testing.T, budget, floor string) *model.ProjectModel {
	t.Helper()
	require.NoError(t, te.ledger.Grant(context.Background(), developer.Id, 1))
	p, err := te.Projects.CreateProject(context.Background(), developer, CreateProjectRequest{
		Title:       "Inventory service",
		ListingType: model.ListingTypeAuction,
		Budget:      dec(budget),
		LowestBid:   decPtr(floor),
	})
	require.NoError(t, err)
	return p
}

func (te *testEngine) createFixed(t *testing.T, budget string) *model.ProjectModel {
	t.Helper()
	require.NoError(t, te.ledger.Grant(context.Background(), developer.Id, 1))
	p, err := te.Projects.CreateProject(context.Background(), developer, CreateProjectRequest{
		Title:       "Landing page",
		ListingType: model.ListingTypeFixedPrice,
		Budget:      dec(budget),
	})
	require.NoError(t, err)
	return p
}

// inProgress 竞拍成交后进入开发阶段，中标人为 investorA
func (te *testEngine) inProgress(t *testing.T, budget string) *model.ProjectModel {
	t.Helper()
	ctx := context.Background()
	p := te.createAuction(t, budget, "100")
	_, err := te.Auctions.PlaceBid(ctx, investorA, p.Id, dec(budget))
	require.NoError(t, err)
	_, err = te.Auctions.CloseBidding(ctx, developer, p.Id)
	require.NoError(t, err)
	return p
}

func (te *testEngine) submitted(t *testing.T, budget string) *model.ProjectModel {
	t.Helper()
	p := te.inProgress(t, budget)
	_, err := te.Deliveries.Submit(context.Background(), developer, p.Id, SubmitRequest{
		DeliveryURL:   "https://git.example.com/inventory",
		DeliveryNotes: "first cut",
	})
	require.NoError(t, err)
	return p
}

func (te *testEngine) disputed(t *testing.T, budget string) (*model.ProjectModel, int64) {
	t.Helper()
	p := te.submitted(t, budget)
	res, err := te.Deliveries.OpenDispute(context.Background(), investorA, p.Id, DisputeRequest{
		Reason: model.DisputeReasonNotWorking,
		Notes:  "crashes on start",
	})
	require.NoError(t, err)
	require.Len(t, res.Disputes, 1)
	return p, res.Disputes[0].Id
}

func TestCreateProject(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	_, err := te.Projects.CreateProject(ctx, developer, CreateProjectRequest{
		Title: "x", ListingType: model.ListingTypeFixedPrice, Budget: dec("100"),
	})
	assert.True(t, IsKind(err, KindInsufficientCredit))

	p := te.createAuction(t, "5000", "4000")
	assert.Equal(t, model.ProjectStatusOpen, p.Status)
	assert.True(t, p.LowestBid.Equal(dec("4000")))
	assert.Nil(t, p.HighestBid)

	f := te.createFixed(t, "1000")
	assert.Equal(t, model.ProjectStatusFixedPrice, f.Status)
	assert.Nil(t, f.LowestBid)

	balance, err := te.ledger.Balance(ctx, developer.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestCreateProjectValidation(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	require.NoError(t, te.ledger.Grant(ctx, developer.Id, 5))

	cases := []CreateProjectRequest{
		{Title: "", ListingType: model.ListingTypeFixedPrice, Budget: dec("100")},
		{Title: "a", ListingType: model.ListingTypeFixedPrice, Budget: dec("0")},
		{Title: "a", ListingType: model.ListingTypeFixedPrice, Budget: dec("-5")},
		{Title: "a", ListingType: model.ListingTypeFixedPrice, Budget: dec("10.005")},
		{Title: "a", ListingType: model.ListingTypeAuction, Budget: dec("100")},
		{Title: "a", ListingType: model.ListingTypeFixedPrice, Budget: dec("100"), LowestBid: decPtr("50")},
		{Title: "a", ListingType: "lottery", Budget: dec("100")},
	}
	for _, req := range cases {
		_, err := te.Projects.CreateProject(ctx, developer, req)
		assert.True(t, IsKind(err, KindValidation), "%+v: %v", req, err)
	}

	_, err := te.Projects.CreateProject(ctx, investorA, CreateProjectRequest{
		Title: "a", ListingType: model.ListingTypeFixedPrice, Budget: dec("100"),
	})
	assert.True(t, IsKind(err, KindForbidden))

	balance, _ := te.ledger.Balance(ctx, developer.Id)
	assert.Equal(t, int64(5), balance)
}

func TestTrailingZeroAmountsAccepted(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createAuction(t, "100.100", "10")
	assert.True(t, p.Budget.Equal(dec("100.1")))

	res, err := te.Auctions.PlaceBid(ctx, investorA, p.Id, dec("50.500"))
	require.NoError(t, err)
	require.NotNil(t, res.Project.HighestBid)
	assert.True(t, res.Project.HighestBid.Equal(dec("50.5")))

	_, err = te.Auctions.PlaceBid(ctx, investorB, p.Id, dec("60.505"))
	assert.True(t, IsKind(err, KindValidation))
}

func TestAuctionCloseSelectsHighestBid(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createAuction(t, "5000", "4000")

	_, err := te.Auctions.PlaceBid(ctx, investorA, p.Id, dec("4200"))
	require.NoError(t, err)
	_, err = te.Auctions.PlaceBid(ctx, investorB, p.Id, dec("4600"))
	require.NoError(t, err)

	res, err := te.Auctions.CloseBidding(ctx, developer, p.Id)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusInProgress, res.Project.Status)
	assert.Equal(t, investorB.Id, res.Project.AssignedInvestor)
	assert.True(t, res.Project.HighestBid.Equal(dec("4600")))
	require.NotNil(t, res.ActiveDelivery)
	assert.Equal(t, model.DeliveryStatusPending, res.ActiveDelivery.Status)
	assert.True(t, res.HasOpenDelivery)
	require.NotNil(t, res.Escrow)
	assert.Equal(t, model.EscrowSourceAuction, res.Escrow.Source)
	assert.True(t, res.Escrow.TotalCharged.Equal(dec("4600")))
}

func TestPlaceBidRejectsNonIncreasingAmounts(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createAuction(t, "5000", "4000")

	_, err := te.Auctions.PlaceBid(ctx, investorA, p.Id, dec("4000"))
	assert.True(t, IsKind(err, KindValidation))

	_, err = te.Auctions.PlaceBid(ctx, investorA, p.Id, dec("4200"))
	require.NoError(t, err)

	before, err := te.Projects.GetProject(ctx, p.Id)
	require.NoError(t, err)

	for _, amount := range []string{"4200", "4100", "4200.00"} {
		_, err = te.Auctions.PlaceBid(ctx, investorB, p.Id, dec(amount))
		assert.True(t, IsKind(err, KindValidation), amount)
	}
	_, err = te.Auctions.PlaceBid(ctx, investorB, p.Id, dec("4300.001"))
	assert.True(t, IsKind(err, KindValidation))
	_, err = te.Auctions.PlaceBid(ctx, developer, p.Id, dec("9000"))
	assert.True(t, IsKind(err, KindForbidden))

	after, err := te.Projects.GetProject(ctx, p.Id)
	require.NoError(t, err)
	assert.Equal(t, before.Project.Version, after.Project.Version)
	assert.True(t, after.Project.HighestBid.Equal(dec("4200")))
	assert.Len(t, after.Bids, 1)
}

func TestCloseBiddingWithoutBids(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createAuction(t, "5000", "4000")

	_, err := te.Auctions.CloseBidding(ctx, developer, p.Id)
	assert.True(t, IsKind(err, KindNoBids))

	agg, err := te.Projects.GetProject(ctx, p.Id)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusOpen, agg.Project.Status)
	assert.Empty(t, agg.Deliveries)

	_, err = te.Auctions.CloseBidding(ctx, Actor{Id: "dev-2", Role: RoleDeveloper}, p.Id)
	assert.True(t, IsKind(err, KindForbidden))
}

func TestPlaceBidAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.inProgress(t, "3000")

	_, err := te.Auctions.PlaceBid(ctx, investorB, p.Id, dec("9999"))
	assert.True(t, IsKind(err, KindInvalidTransition))

	_, err = te.Auctions.CloseBidding(ctx, developer, p.Id)
	assert.True(t, IsKind(err, KindInvalidTransition))
}

func TestSelectWinnerTieBreaksOnEarliestBid(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bids := []model.BidModel{
		{Id: 3, InvestorId: "late", Amount: dec("500"), PlacedAt: t0.Add(2 * time.Second)},
		{Id: 2, InvestorId: "early", Amount: dec("500.00"), PlacedAt: t0.Add(time.Second)},
		{Id: 1, InvestorId: "low", Amount: dec("400"), PlacedAt: t0},
	}
	w, ok := selectWinner(bids)
	require.True(t, ok)
	assert.Equal(t, "early", w.InvestorId)

	bids = append(bids, model.BidModel{Id: 0, InvestorId: "same-instant", Amount: dec("500"), PlacedAt: t0.Add(time.Second)})
	w, _ = selectWinner(bids)
	assert.Equal(t, "same-instant", w.InvestorId)

	_, ok = selectWinner(nil)
	assert.False(t, ok)
}

func TestConcurrentBidsKeepHighestConsistent(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createAuction(t, "5000", "100")

	var wg sync.WaitGroup
	amounts := []string{"200", "300", "250", "400", "350", "150", "500", "450"}
	for i, a := range amounts {
		wg.Add(1)
		go func(i int, a string) {
			defer wg.Done()
			inv := investorA
			if i%2 == 1 {
				inv = investorB
			}
			_, err := te.Auctions.PlaceBid(ctx, inv, p.Id, dec(a))
			if err != nil {
				kind := KindOf(err)
				assert.True(t, kind == KindValidation || kind == KindConflict, "%v", err)
			}
		}(i, a)
	}
	wg.Wait()

	agg, err := te.Projects.GetProject(ctx, p.Id)
	require.NoError(t, err)
	require.NotEmpty(t, agg.Bids)
	max := agg.Bids[0].Amount
	for i, b := range agg.Bids {
		if b.Amount.GreaterThan(max) {
			max = b.Amount
		}
		if i > 0 {
			assert.True(t, b.Amount.GreaterThan(agg.Bids[i-1].Amount), "accepted bids strictly increase")
		}
	}
	assert.True(t, agg.Project.HighestBid.Equal(max))
}

func TestFixedPricePurchase(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createFixed(t, "1000")

	_, err := te.Auctions.PlaceBid(ctx, investorA, p.Id, dec("1200"))
	assert.True(t, IsKind(err, KindInvalidTransition))

	_, err = te.Projects.ConfirmFixedPricePurchase(ctx, investorA, p.Id, investorA.Id)
	assert.True(t, IsKind(err, KindForbidden))

	res, err := te.Projects.ConfirmFixedPricePurchase(ctx, SystemActor, p.Id, investorA.Id)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusInProgress, res.Project.Status)
	assert.Equal(t, investorA.Id, res.Project.AssignedInvestor)
	require.NotNil(t, res.Escrow)
	assert.True(t, res.Escrow.TotalCharged.Equal(dec("1091.00")))
	assert.True(t, res.Escrow.FixedFee.Equal(dec("30")))

	_, err = te.Projects.ConfirmFixedPricePurchase(ctx, SystemActor, p.Id, investorB.Id)
	assert.True(t, IsKind(err, KindConflict))

	auction := te.createAuction(t, "500", "100")
	_, err = te.Projects.ConfirmFixedPricePurchase(ctx, SystemActor, auction.Id, investorA.Id)
	assert.True(t, IsKind(err, KindInvalidTransition))
}

func TestApproveDeliveryCreatesPayout(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.inProgress(t, "2000")

	_, err := te.Deliveries.Approve(ctx, investorA, p.Id, "")
	assert.True(t, IsKind(err, KindInvalidTransition), "cannot approve a pending delivery")

	_, err = te.Deliveries.Submit(ctx, developer, p.Id, SubmitRequest{DeliveryNotes: "  "})
	assert.True(t, IsKind(err, KindValidation))
	_, err = te.Deliveries.Submit(ctx, developer, p.Id, SubmitRequest{DeliveryURL: "ftp://x", DeliveryNotes: "done"})
	assert.True(t, IsKind(err, KindValidation))

	res, err := te.Deliveries.Submit(ctx, developer, p.Id, SubmitRequest{DeliveryNotes: "done"})
	require.NoError(t, err)
	d := res.ActiveDelivery
	require.NotNil(t, d)
	assert.Equal(t, model.DeliveryStatusSubmitted, d.Status)
	assert.True(t, d.ProjectAmount.Equal(dec("2000")))
	assert.True(t, d.PlatformCommission.Equal(dec("120")))
	assert.True(t, d.DeveloperPayout.Equal(dec("1880")))

	_, err = te.Deliveries.Approve(ctx, investorB, p.Id, "")
	assert.True(t, IsKind(err, KindForbidden))

	res, err = te.Deliveries.Approve(ctx, investorA, p.Id, "great")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusClosed, res.Project.Status)
	assert.Equal(t, model.DeliveryStatusApproved, res.ActiveDelivery.Status)
	assert.False(t, res.HasOpenDelivery)
	require.Len(t, res.Payouts, 1)
	po := res.Payouts[0]
	assert.True(t, po.GrossAmount.Equal(dec("2000")))
	assert.True(t, po.PlatformFee.Equal(dec("120.00")))
	assert.True(t, po.NetAmount.Equal(dec("1880.00")))
	assert.Equal(t, model.PayoutStatusPending, po.Status)
	assert.Equal(t, developer.Id, po.DeveloperId)
	assert.Equal(t, []int64{po.Id}, te.notifier.ids)

	_, err = te.Deliveries.Approve(ctx, investorA, p.Id, "again")
	assert.True(t, IsKind(err, KindInvalidTransition))
}

func TestRequestChangesReturnsToPending(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.submitted(t, "800")

	_, err := te.Deliveries.RequestChanges(ctx, investorA, p.Id, "")
	assert.True(t, IsKind(err, KindValidation))

	res, err := te.Deliveries.RequestChanges(ctx, investorA, p.Id, "add tests")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusPending, res.ActiveDelivery.Status)
	assert.Equal(t, "add tests", res.ActiveDelivery.Feedback)
	assert.Equal(t, 1, res.ActiveDelivery.RevisionCount)
	assert.Equal(t, model.ProjectStatusInProgress, res.Project.Status)
	assert.Empty(t, res.Payouts)

	_, err = te.Deliveries.Submit(ctx, developer, p.Id, SubmitRequest{DeliveryNotes: "tests added"})
	require.NoError(t, err)
}

func TestOpenDispute(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.submitted(t, "800")

	_, err := te.Deliveries.OpenDispute(ctx, investorA, p.Id, DisputeRequest{Reason: "bored"})
	assert.True(t, IsKind(err, KindValidation))
	_, err = te.Deliveries.OpenDispute(ctx, investorB, p.Id, DisputeRequest{Reason: model.DisputeReasonOther})
	assert.True(t, IsKind(err, KindForbidden))

	res, err := te.Deliveries.OpenDispute(ctx, developer, p.Id, DisputeRequest{Reason: model.DisputeReasonOther, Notes: "investor unresponsive"})
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusDisputed, res.Project.Status)
	assert.Equal(t, model.DeliveryStatusDisputed, res.ActiveDelivery.Status)
	require.Len(t, res.Disputes, 1)
	assert.Equal(t, "developer", res.Disputes[0].OpenedBy)
	assert.Equal(t, model.DisputeStatusOpen, res.Disputes[0].Status)
}

func TestResolveRefundDeveloper(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p, disputeId := te.disputed(t, "2000")

	_, err := te.Disputes.Resolve(ctx, admin, disputeId, ResolveRequest{Resolution: model.ResolutionRefundDeveloper})
	assert.True(t, IsKind(err, KindValidation), "admin notes required")
	_, err = te.Disputes.Resolve(ctx, investorA, disputeId, ResolveRequest{Resolution: model.ResolutionRefundDeveloper, AdminNotes: "x"})
	assert.True(t, IsKind(err, KindForbidden))

	res, err := te.Disputes.Resolve(ctx, admin, disputeId, ResolveRequest{Resolution: model.ResolutionRefundDeveloper, AdminNotes: "work meets brief"})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, model.ProjectStatusClosed, res.Project.Status)
	assert.Equal(t, model.DeliveryStatusApproved, res.ActiveDelivery.Status)
	require.Len(t, res.Payouts, 1)
	assert.True(t, res.Payouts[0].NetAmount.Equal(dec("1880")))
	assert.Empty(t, te.payment.calls)
	assert.Equal(t, p.Id, res.Disputes[0].ProjectId)
}

func TestResolveRefundInvestor(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p, disputeId := te.disputed(t, "2000")

	res, err := te.Disputes.Resolve(ctx, admin, disputeId, ResolveRequest{Resolution: model.ResolutionRefundInvestor, AdminNotes: "not delivered"})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, model.ProjectStatusClosed, res.Project.Status)
	assert.Equal(t, model.DeliveryStatusResolved, res.ActiveDelivery.Status)
	assert.Empty(t, res.Payouts)

	require.Len(t, te.payment.calls, 1)
	call := te.payment.calls[0]
	assert.Equal(t, p.Id, call.ProjectId)
	assert.Equal(t, investorA.Id, call.InvestorId)
	assert.True(t, call.Amount.Equal(dec("2000")))

	require.Len(t, res.Refunds, 1)
	assert.Equal(t, model.RefundStatusSuccess, res.Refunds[0].Status)
	assert.Equal(t, call.Reference, res.Refunds[0].Reference)
}

func TestResolveRefundInvestorPaymentFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	te.payment.err = errors.New("gateway timeout")
	_, disputeId := te.disputed(t, "2000")

	res, err := te.Disputes.Resolve(ctx, admin, disputeId, ResolveRequest{Resolution: model.ResolutionRefundInvestor, AdminNotes: "refund"})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, KindExternalDependency, res.Warnings[0].Kind)
	assert.Equal(t, RefundFailedWarning, res.Warnings[0].Message)
	assert.Equal(t, model.ProjectStatusClosed, res.Project.Status)
	assert.Equal(t, model.DisputeStatusResolved, res.Disputes[0].Status)
	require.Len(t, res.Refunds, 1)
	assert.Equal(t, model.RefundStatusFailed, res.Refunds[0].Status)
	assert.Contains(t, res.Refunds[0].FailureReason, "gateway timeout")

	_, err = te.Disputes.RetryRefund(ctx, admin, res.Refunds[0].Id)
	assert.True(t, IsKind(err, KindExternalDependency))

	te.payment.err = nil
	refund, err := te.Disputes.RetryRefund(ctx, admin, res.Refunds[0].Id)
	require.NoError(t, err)
	assert.Equal(t, model.RefundStatusSuccess, refund.Status)
	assert.Equal(t, te.payment.calls[0].Reference, te.payment.calls[2].Reference)

	_, err = te.Disputes.RetryRefund(ctx, admin, refund.Id)
	assert.True(t, IsKind(err, KindInvalidTransition))

	stats, err := te.Refunds.GetRefundStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SuccessRefunds)
	assert.True(t, stats.TotalAmount.Equal(dec("2000")))
}

func TestRefundInvestorRecordsBudgetAndEscrowAmounts(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createAuction(t, "5000", "4000")
	_, err := te.Auctions.PlaceBid(ctx, investorA, p.Id, dec("4600"))
	require.NoError(t, err)
	_, err = te.Auctions.CloseBidding(ctx, developer, p.Id)
	require.NoError(t, err)
	_, err = te.Deliveries.Submit(ctx, developer, p.Id, SubmitRequest{DeliveryNotes: "first cut"})
	require.NoError(t, err)
	opened, err := te.Deliveries.OpenDispute(ctx, investorA, p.Id, DisputeRequest{Reason: model.DisputeReasonNotWorking})
	require.NoError(t, err)

	res, err := te.Disputes.Resolve(ctx, admin, opened.Disputes[0].Id, ResolveRequest{Resolution: model.ResolutionRefundInvestor, AdminNotes: "refund"})
	require.NoError(t, err)
	require.NotNil(t, res.Escrow)
	assert.True(t, res.Escrow.Amount.Equal(dec("4600")))
	require.Len(t, res.Refunds, 1)
	assert.True(t, res.Refunds[0].Amount.Equal(dec("5000")))

	events, _, err := te.Events.GetEvents(ctx, p.Id, string(ActionResolvedTerminal), 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data, `"refund_amount":"5000.00"`)
	assert.Contains(t, events[0].Data, `"escrow_amount":"4600.00"`)
}

func TestRetryRefundOnlyFromFailed(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	te.payment.err = errors.New("gateway timeout")
	_, disputeId := te.disputed(t, "2000")
	res, err := te.Disputes.Resolve(ctx, admin, disputeId, ResolveRequest{Resolution: model.ResolutionRefundInvestor, AdminNotes: "refund"})
	require.NoError(t, err)
	refundId := res.Refunds[0].Id
	te.payment.err = nil

	// 首次调用仍在途
	require.NoError(t, te.db.Model(&model.RefundRecordModel{}).Where("id = ?", refundId).
		Update("status", model.RefundStatusPending).Error)
	_, err = te.Disputes.RetryRefund(ctx, admin, refundId)
	assert.True(t, IsKind(err, KindInvalidTransition))
	assert.Len(t, te.payment.calls, 1)

	require.NoError(t, te.db.Model(&model.RefundRecordModel{}).Where("id = ?", refundId).
		Update("status", model.RefundStatusFailed).Error)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = te.Disputes.RetryRefund(ctx, admin, refundId)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, e := range errs {
		if e == nil {
			succeeded++
		} else {
			assert.True(t, IsKind(e, KindInvalidTransition), e)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, te.payment.calls, 2)

	refund, err := te.Refunds.GetRefund(ctx, refundId)
	require.NoError(t, err)
	assert.Equal(t, model.RefundStatusSuccess, refund.Status)
}

func TestResolveTwiceFailsWithoutChanges(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p, disputeId := te.disputed(t, "2000")

	_, err := te.Disputes.Resolve(ctx, admin, disputeId, ResolveRequest{Resolution: model.ResolutionRefundDeveloper, AdminNotes: "first"})
	require.NoError(t, err)
	before, err := te.Projects.GetProject(ctx, p.Id)
	require.NoError(t, err)

	_, err = te.Disputes.Resolve(ctx, admin, disputeId, ResolveRequest{Resolution: model.ResolutionRefundInvestor, AdminNotes: "second"})
	assert.True(t, IsKind(err, KindAlreadyResolved))

	after, err := te.Projects.GetProject(ctx, p.Id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, te.payment.calls)
}

func TestResolveContinueProject(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p, disputeId := te.disputed(t, "1500")

	res, err := te.Disputes.Resolve(ctx, admin, disputeId, ResolveRequest{Resolution: model.ResolutionContinue, AdminNotes: "try again"})
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusInProgress, res.Project.Status)
	require.Len(t, res.Deliveries, 2)
	old, fresh := res.Deliveries[0], res.Deliveries[1]
	assert.True(t, old.Archived)
	assert.Equal(t, model.DeliveryStatusResolved, old.Status)
	assert.Equal(t, model.ResolutionContinue, old.Resolution)
	assert.False(t, fresh.Archived)
	assert.Equal(t, 2, fresh.Sequence)
	assert.Equal(t, model.DeliveryStatusPending, fresh.Status)
	assert.Equal(t, fresh.Id, res.ActiveDelivery.Id)
	assert.Empty(t, res.Payouts)

	_, err = te.Deliveries.Submit(ctx, developer, p.Id, SubmitRequest{DeliveryNotes: "second attempt"})
	require.NoError(t, err)
	res, err = te.Deliveries.Approve(ctx, investorA, p.Id, "")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusClosed, res.Project.Status)
	require.Len(t, res.Payouts, 1)
	assert.Equal(t, fresh.Id, res.Payouts[0].DeliveryId)
}

func TestProjectEventsTrail(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.submitted(t, "900")

	events, total, err := te.Events.GetEvents(ctx, p.Id, "", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"create", "place_bid", "close_bidding", "submit_delivery"}, actions)
	assert.Equal(t, string(model.ProjectStatusOpen), events[2].FromStatus)
	assert.Equal(t, string(model.ProjectStatusInProgress), events[2].ToStatus)

	events, total, err = te.Events.GetEvents(ctx, p.Id, "place_bid", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, investorA.Id, events[0].ActorId)
}

func TestListProjectsAndStats(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	te.createAuction(t, "500", "100")
	te.createFixed(t, "1000")
	p := te.submitted(t, "2000")
	_, err := te.Deliveries.Approve(ctx, investorA, p.Id, "")
	require.NoError(t, err)

	projects, total, err := te.Projects.ListProjects(ctx, ProjectFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, projects, 3)

	projects, total, err = te.Projects.ListProjects(ctx, ProjectFilter{Status: model.ProjectStatusClosed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, p.Id, projects[0].Id)

	stats, err := te.Projects.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ProjectsByStatus[model.ProjectStatusOpen])
	assert.Equal(t, int64(1), stats.ProjectsByStatus[model.ProjectStatusFixedPrice])
	assert.Equal(t, int64(1), stats.ProjectsByStatus[model.ProjectStatusClosed])
	assert.Equal(t, int64(1), stats.PayoutsByStatus[model.PayoutStatusPending])
	assert.True(t, stats.EscrowTotal.Equal(dec("2000")))
}

func TestLockTimeoutIsConflict(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createAuction(t, "500", "100")

	locker := lock.NewKeyedMutex(20 * time.Millisecond)
	eng := New(Options{DB: te.db, Locker: locker})
	unlock, err := locker.Lock(ctx, projectKey(p.Id))
	require.NoError(t, err)
	defer unlock()

	_, err = eng.Auctions.PlaceBid(ctx, investorA, p.Id, dec("200"))
	assert.True(t, IsKind(err, KindConflict))
}

func TestStaleVersionIsConflict(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	p := te.createAuction(t, "500", "100")

	_, err := te.Auctions.mutate(ctx, "Test", p.Id, func(tx *gorm.DB, project *model.ProjectModel) error {
		// 模拟另一写入者绕过锁提交
		return tx.Model(&model.ProjectModel{}).Where("id = ?", project.Id).Update("version", project.Version+1).Error
	})
	assert.True(t, IsKind(err, KindConflict))

	agg, err := te.Projects.GetProject(ctx, p.Id)
	require.NoError(t, err)
	assert.Equal(t, p.Version, agg.Project.Version)
}

func TestGetProjectNotFound(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.Projects.GetProject(context.Background(), 404)
	assert.True(t, IsKind(err, KindNotFound))
	_, err = te.Auctions.PlaceBid(context.Background(), investorA, 404, dec("10"))
	assert.True(t, IsKind(err, KindNotFound))
}
