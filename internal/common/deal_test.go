package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	advertiserId = int64(100)
	publisherId  = int64(200)
	managerId    = int64(300)
	strangerId   = int64(999)
)

func newTestDeal() *Deal {
	d := NewDeal(advertiserId, publisherId, ChannelSnapshot{
		ChatId: -1001234,
		Title:  "Test Channel",
	}, AdTypePost, 100)
	d.Id = "1"
	d.ManagerIds = []int64{managerId}
	return d
}

func TestRoleResolution(t *testing.T) {
	d := newTestDeal()

	assert.Equal(t, RoleAdvertiser, d.RoleOf(advertiserId))
	assert.Equal(t, RolePublisher, d.RoleOf(publisherId))
	assert.Equal(t, RoleManager, d.RoleOf(managerId))
	assert.Equal(t, RoleNone, d.RoleOf(strangerId))

	// a manager is publisher-equivalent for guards
	assert.Equal(t, RolePublisher, RoleManager.Side())
}

func TestTransitionGraph(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{DealNegotiating, DealPriceProposed, true},
		{DealPriceProposed, DealNegotiating, true}, // duration-reset loop-back
		{DealNegotiating, DealAwaitingPayment, false},
		{DealAwaitingAd, DealAdUnderReview, true},
		{DealAdUnderReview, DealAdRejected, true},
		{DealAdRejected, DealAwaitingAd, true},
		{DealAwaitingPayment, DealScheduled, true},
		{DealScheduled, DealCompleted, false},
		{DealPosted, DealRefundedDelete, true},
		{DealVerified, DealCompleted, true},
		{DealCompleted, DealNegotiating, false},
		{DealCancelled, DealNegotiating, false},
	}
	for _, ts := range tests {
		if v := CanTransition(ts.from, ts.to); v != ts.ok {
			t.Errorf("%s -> %s: wanted %v, got %v", ts.from, ts.to, ts.ok, v)
		}
	}
}

func TestSetDurationGuards(t *testing.T) {
	d := newTestDeal()

	assert.ErrorIs(t, d.SetDuration(RolePublisher, 7), ErrAdvertiserOnly)
	assert.ErrorIs(t, d.SetDuration(RoleAdvertiser, 0), ErrBadDuration)
	assert.ErrorIs(t, d.SetDuration(RoleAdvertiser, -3), ErrBadDuration)

	require.NoError(t, d.SetDuration(RoleAdvertiser, 7))
	assert.Equal(t, 7, d.Duration)
	assert.Equal(t, DealNegotiating, d.Status)

	d.Status = DealAwaitingPayment
	assert.ErrorIs(t, d.SetDuration(RoleAdvertiser, 10), ErrNotNegotiable)
}

func TestSetDurationRestartsBargaining(t *testing.T) {
	d := newTestDeal()
	require.NoError(t, d.SetDuration(RoleAdvertiser, 7))
	require.NoError(t, d.ProposePrice(RoleAdvertiser, 700))
	require.Equal(t, DealPriceProposed, d.Status)

	// changing duration always clears negotiation and resets the status
	require.NoError(t, d.SetDuration(RoleAdvertiser, 14))
	assert.Nil(t, d.Negotiation)
	assert.Equal(t, DealNegotiating, d.Status)
}

func TestProposePriceGuards(t *testing.T) {
	d := newTestDeal()

	assert.ErrorIs(t, d.ProposePrice(RoleAdvertiser, 500), ErrDurationUnset)

	require.NoError(t, d.SetDuration(RoleAdvertiser, 7))
	assert.ErrorIs(t, d.ProposePrice(RoleAdvertiser, 0), ErrBadPrice)
	assert.ErrorIs(t, d.ProposePrice(RoleNone, 500), ErrNotParty)

	require.NoError(t, d.ProposePrice(RoleManager, 500))
	assert.Equal(t, DealPriceProposed, d.Status)
	assert.Equal(t, RolePublisher, d.Negotiation.ProposedBy) // manager proposes as the publisher side

	// a counter-offer replaces the round wholesale
	require.NoError(t, d.ProposePrice(RoleAdvertiser, 450))
	assert.Equal(t, 450.0, d.Negotiation.ProposedPrice)
	assert.Equal(t, RoleAdvertiser, d.Negotiation.ProposedBy)
	assert.Zero(t, d.Negotiation.AcceptedAt)
}

// End-to-end scenario: duration, advertiser offer, publisher accept.
func TestNegotiationAdvertiserProposes(t *testing.T) {
	d := newTestDeal()

	require.NoError(t, d.SetDuration(RoleAdvertiser, 7))
	assert.Equal(t, DealNegotiating, d.Status)

	require.NoError(t, d.ProposePrice(RoleAdvertiser, 700))
	assert.Equal(t, DealPriceProposed, d.Status)
	assert.Equal(t, RoleAdvertiser, d.Negotiation.ProposedBy)

	require.NoError(t, d.AcceptPrice(RolePublisher))
	assert.Equal(t, DealAwaitingAd, d.Status)
	assert.Equal(t, 700.0, d.Price)
	assert.NotZero(t, d.Negotiation.AcceptedAt)
}

// End-to-end scenario: the proposing side cannot accept its own offer.
func TestNegotiationSelfAcceptForbidden(t *testing.T) {
	d := newTestDeal()
	require.NoError(t, d.SetDuration(RoleAdvertiser, 5))

	require.NoError(t, d.ProposePrice(RolePublisher, 500))
	assert.ErrorIs(t, d.AcceptPrice(RolePublisher), ErrSelfAccept)
	assert.ErrorIs(t, d.AcceptPrice(RoleManager), ErrSelfAccept) // same side

	require.NoError(t, d.AcceptPrice(RoleAdvertiser))
	assert.Equal(t, 500.0, d.Price)
	assert.Equal(t, DealAwaitingAd, d.Status)
}

// Straight acceptance of rate*duration with no counter-offer.
func TestAcceptWithoutNegotiation(t *testing.T) {
	d := newTestDeal()
	require.NoError(t, d.SetDuration(RoleAdvertiser, 7))

	require.NoError(t, d.AcceptPrice(RolePublisher))
	assert.Equal(t, DealAwaitingAd, d.Status)
	assert.Equal(t, 100.0, d.Price) // per-day rate untouched
	assert.Nil(t, d.Negotiation)
	assert.Equal(t, 700.0, d.Total())
}

func TestAdReviewExclusivity(t *testing.T) {
	d := newTestDeal()
	require.NoError(t, d.SetDuration(RoleAdvertiser, 7))
	require.NoError(t, d.AcceptPrice(RolePublisher))

	assert.ErrorIs(t, d.ApproveAd(RolePublisher), ErrNoAdUnderReview)

	require.NoError(t, d.SubmitAd(-1009, 42))
	assert.Equal(t, DealAdUnderReview, d.Status)

	assert.ErrorIs(t, d.ApproveAd(RoleAdvertiser), ErrPublisherOnly)

	require.NoError(t, d.RejectAd(RoleManager))
	assert.Equal(t, DealAdRejected, d.Status)
	assert.NotZero(t, d.Ad.RejectedAt)
	assert.Zero(t, d.Ad.ApprovedAt)

	// resubmission after rejection
	require.NoError(t, d.SubmitAd(-1009, 43))
	assert.Equal(t, DealAdUnderReview, d.Status)

	require.NoError(t, d.ApproveAd(RolePublisher))
	assert.Equal(t, DealAwaitingPayment, d.Status)

	// at most one of the two review stamps is ever set
	assert.NotZero(t, d.Ad.ApprovedAt)
	assert.Zero(t, d.Ad.RejectedAt)
}

func TestSettlementAndMonitoring(t *testing.T) {
	d := newTestDeal()
	require.NoError(t, d.SetDuration(RoleAdvertiser, 7))
	require.NoError(t, d.ProposePrice(RolePublisher, 500))
	require.NoError(t, d.AcceptPrice(RoleAdvertiser))
	require.NoError(t, d.SubmitAd(-1009, 42))
	require.NoError(t, d.ApproveAd(RolePublisher))

	assert.Equal(t, KindConflict, KindOf(d.MarkPosted(1)))

	require.NoError(t, d.SettlePayment("0:abc", "deadbeef", 1900000000))
	assert.Equal(t, DealScheduled, d.Status)
	assert.Equal(t, "deadbeef", d.Payment.TxHash)
	assert.NotZero(t, d.Payment.PaidAt)
	assert.Equal(t, int64(1900000000), d.Schedule.PostAt)

	assert.Equal(t, KindConflict, KindOf(d.Cancel())) // past the point of no return

	require.NoError(t, d.MarkPosted(77))
	require.NoError(t, d.MarkVerified())
	assert.NotZero(t, d.Schedule.VerifiedAt)
	require.NoError(t, d.MarkCompleted())
	assert.Equal(t, DealCompleted, d.Status)
}

func TestRefundBranches(t *testing.T) {
	d := newTestDeal()
	d.Status = DealPosted
	d.Payment = &Payment{TxHash: "beef", PaidAt: 1}

	assert.Error(t, d.MarkRefunded("refunded_whatever"))

	require.NoError(t, d.MarkRefunded(DealRefundedDelete))
	assert.Equal(t, DealRefundedDelete, d.Status)
	assert.NotZero(t, d.Payment.RefundedAt)
}

func TestCancelOnlyPrePayment(t *testing.T) {
	for _, status := range []string{
		DealNegotiating, DealPriceProposed, DealAwaitingAd,
		DealAdUnderReview, DealAdRejected, DealAwaitingPayment,
	} {
		d := newTestDeal()
		d.Status = status
		if err := d.Cancel(); err != nil {
			t.Errorf("cancel from %s: %v", status, err)
		}
	}

	for _, status := range []string{DealScheduled, DealPosted, DealVerified, DealCompleted} {
		d := newTestDeal()
		d.Status = status
		if d.Cancel() == nil {
			t.Errorf("cancel from %s should fail", status)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	assert.Equal(t, 403, HTTPStatus(ErrSelfAccept))
	assert.Equal(t, 403, HTTPStatus(ErrNoLongerAdmin))
	assert.Equal(t, 404, HTTPStatus(ErrDealNotFound))
	assert.Equal(t, 400, HTTPStatus(ErrDurationUnset))
	assert.Equal(t, 409, HTTPStatus(ErrNotNegotiable))
	assert.Equal(t, 500, HTTPStatus(assert.AnError))
}
