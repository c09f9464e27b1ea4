package common

import (
	"fmt"
	"time"
)

// Deal statuses
const (
	DealNegotiating     = "negotiating"
	DealPriceProposed   = "price_proposed"
	DealAwaitingAd      = "awaiting_ad_submission"
	DealAdUnderReview   = "ad_under_review"
	DealAdRejected      = "ad_rejected"
	DealAwaitingPayment = "awaiting_payment"
	DealScheduled       = "scheduled"
	DealPosted          = "posted"
	DealVerified        = "verified"
	DealCompleted       = "completed"
	DealPostingFailed   = "posting_failed"
	DealRefundedEdit    = "refunded_edit"
	DealRefundedDelete  = "refunded_delete"
	DealCancelled       = "cancelled"
)

// Ad types
const (
	AdTypePost            = "post"
	AdTypeStory           = "story"
	AdTypePostWithForward = "postWithForward"
)

// Valid status transitions: from -> []to. The price_proposed -> negotiating
// edge is the duration-reset loop-back; everything else only moves forward.
var DealTransitions = map[string][]string{
	DealNegotiating:     {DealPriceProposed, DealAwaitingAd, DealCancelled},
	DealPriceProposed:   {DealNegotiating, DealAwaitingAd, DealCancelled},
	DealAwaitingAd:      {DealAdUnderReview, DealCancelled},
	DealAdUnderReview:   {DealAwaitingPayment, DealAdRejected, DealCancelled},
	DealAdRejected:      {DealAwaitingAd, DealCancelled},
	DealAwaitingPayment: {DealScheduled, DealCancelled},
	DealScheduled:       {DealPosted},
	DealPosted:          {DealVerified, DealPostingFailed, DealRefundedEdit, DealRefundedDelete},
	DealVerified:        {DealCompleted, DealPostingFailed, DealRefundedEdit, DealRefundedDelete},
	DealCompleted:       {},
	DealPostingFailed:   {},
	DealRefundedEdit:    {},
	DealRefundedDelete:  {},
	DealCancelled:       {},
}

func CanTransition(from, to string) bool {
	for _, s := range DealTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Acting roles. A manager is publisher-equivalent for every guard; the
// distinct value only survives for read-role reporting.
type Role string

const (
	RoleAdvertiser Role = "advertiser"
	RolePublisher  Role = "publisher"
	RoleManager    Role = "manager"
	RoleNone       Role = ""
)

// Side collapses manager into publisher.
func (r Role) Side() Role {
	if r == RoleManager {
		return RolePublisher
	}
	return r
}

// ChannelSnapshot is the channel as it looked when the deal was created.
// It is not live-synced.
type ChannelSnapshot struct {
	ChatId        int64  `json:"chatId"`
	Title         string `json:"title"`
	Link          string `json:"link,omitempty"`
	Username      string `json:"username,omitempty"`
	Photo         string `json:"photo,omitempty"`
	PayoutAddress string `json:"payoutAddress,omitempty"`
}

type CampaignRef struct {
	Id          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Negotiation holds one in-flight counter-offer. A fresh round replaces the
// whole object; once AcceptedAt is set the object is frozen.
type Negotiation struct {
	ProposedPrice float64 `json:"proposedPrice"` // a total, not per-day
	ProposedBy    Role    `json:"proposedBy"`    // advertiser or publisher
	ProposedAt    int64   `json:"proposedAt"`
	AcceptedAt    int64   `json:"acceptedAt,omitempty"`
}

type Ad struct {
	ChatId      int64 `json:"chatId"`
	MessageId   int   `json:"messageId"`
	SubmittedAt int64 `json:"submittedAt"`
	ApprovedAt  int64 `json:"approvedAt,omitempty"`
	RejectedAt  int64 `json:"rejectedAt,omitempty"`
}

type Payment struct {
	SenderAddress string `json:"senderAddress"`
	TxHash        string `json:"txHash"`
	PaidAt        int64  `json:"paidAt"`
	RefundedAt    int64  `json:"refundedAt,omitempty"`
}

type PostRef struct {
	MessageId int   `json:"messageId"`
	PostedAt  int64 `json:"postedAt"`
}

type Schedule struct {
	PostAt     int64    `json:"postAt"`
	Post       *PostRef `json:"post,omitempty"`
	VerifiedAt int64    `json:"verifiedAt,omitempty"`
}

// Deal tracks one advertiser-publisher ad placement end to end. It is
// immutable history once created; only status moves it forward.
type Deal struct {
	Id string `json:"id"`

	AdvertiserId int64   `json:"advertiserId"`
	PublisherId  int64   `json:"publisherId"`
	ManagerIds   []int64 `json:"managerIds,omitempty"`

	Channel  ChannelSnapshot `json:"channel"`
	Campaign *CampaignRef    `json:"campaign,omitempty"`

	AdType   string  `json:"adType"`
	Duration int     `json:"duration"` // days, 0 = unset
	Price    float64 `json:"price"`    // per-day listing rate; becomes the accepted total after negotiation

	EscrowAddress string `json:"escrowAddress,omitempty"` // assigned lazily on first payment intent

	Negotiation *Negotiation `json:"negotiation,omitempty"`
	Ad          *Ad          `json:"ad,omitempty"`
	Payment     *Payment     `json:"payment,omitempty"`
	Schedule    *Schedule    `json:"schedule,omitempty"`

	Status string `json:"status"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// NewDeal starts a deal in negotiating. Who is advertiser vs publisher is the
// caller's concern; it flips depending on which side applied.
func NewDeal(advertiserId, publisherId int64, ch ChannelSnapshot, adType string, pricePerDay float64) *Deal {
	now := time.Now().Unix()
	return &Deal{
		AdvertiserId: advertiserId,
		PublisherId:  publisherId,
		Channel:      ch,
		AdType:       adType,
		Price:        pricePerDay,
		Status:       DealNegotiating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RoleOf classifies the acting user against the deal's parties.
func (d *Deal) RoleOf(userId int64) Role {
	switch {
	case userId == d.AdvertiserId:
		return RoleAdvertiser
	case userId == d.PublisherId:
		return RolePublisher
	default:
		for _, id := range d.ManagerIds {
			if id == userId {
				return RoleManager
			}
		}
	}
	return RoleNone
}

func (d *Deal) IsNegotiable() bool {
	return d.Status == DealNegotiating || d.Status == DealPriceProposed
}

// IsPrePayment reports whether the deal can still be abandoned without
// economic consequence.
func (d *Deal) IsPrePayment() bool {
	switch d.Status {
	case DealNegotiating, DealPriceProposed, DealAwaitingAd, DealAdUnderReview,
		DealAdRejected, DealAwaitingPayment:
		return true
	}
	return false
}

func (d *Deal) advance(to string) error {
	if !CanTransition(d.Status, to) {
		return E(KindConflict, fmt.Sprintf("deal cannot move from %s to %s", d.Status, to))
	}
	d.Status = to
	d.touch()
	return nil
}

func (d *Deal) touch() {
	d.UpdatedAt = time.Now().Unix()
}

// Total is the amount the advertiser owes: the negotiated total when a
// negotiation round exists, otherwise listing rate times duration.
func (d *Deal) Total() float64 {
	if d.Negotiation != nil {
		return d.Negotiation.ProposedPrice
	}
	return d.Price * float64(d.Duration)
}

// SetDuration replaces the duration and unconditionally restarts price
// bargaining, since the total depends on it. Advertiser only.
func (d *Deal) SetDuration(r Role, days int) error {
	if r != RoleAdvertiser {
		return ErrAdvertiserOnly
	}
	if !d.IsNegotiable() {
		return ErrNotNegotiable
	}
	if days <= 0 {
		return ErrBadDuration
	}
	d.Duration = days
	d.Negotiation = nil
	d.Status = DealNegotiating
	d.touch()
	return nil
}

// ProposePrice records a total-price counter-offer from either side,
// replacing any previous round.
func (d *Deal) ProposePrice(r Role, total float64) error {
	if r.Side() != RoleAdvertiser && r.Side() != RolePublisher {
		return ErrNotParty
	}
	if !d.IsNegotiable() {
		return ErrNotNegotiable
	}
	if d.Duration <= 0 {
		return ErrDurationUnset
	}
	if total <= 0 {
		return ErrBadPrice
	}
	d.Negotiation = &Negotiation{
		ProposedPrice: total,
		ProposedBy:    r.Side(),
		ProposedAt:    time.Now().Unix(),
	}
	if d.Status == DealNegotiating {
		return d.advance(DealPriceProposed)
	}
	d.touch()
	return nil
}

// AcceptPrice closes the bargaining stage. With a pending negotiation the
// proposed total becomes the deal price; a party cannot accept its own
// still-pending offer. Straight acceptance of rate*duration with no
// negotiation round is also legal.
func (d *Deal) AcceptPrice(r Role) error {
	if r.Side() != RoleAdvertiser && r.Side() != RolePublisher {
		return ErrNotParty
	}
	if !d.IsNegotiable() {
		return ErrNotNegotiable
	}
	if n := d.Negotiation; n != nil && n.AcceptedAt == 0 {
		if n.ProposedBy == r.Side() {
			return ErrSelfAccept
		}
		d.Price = n.ProposedPrice
		n.AcceptedAt = time.Now().Unix()
	}
	return d.advance(DealAwaitingAd)
}

// SubmitAd attaches the creative and queues it for publisher review. A
// rejected creative may be resubmitted.
func (d *Deal) SubmitAd(chatId int64, messageId int) error {
	if d.Status == DealAdRejected {
		if err := d.advance(DealAwaitingAd); err != nil {
			return err
		}
	}
	if d.Status != DealAwaitingAd {
		return ErrAdNotExpected
	}
	d.Ad = &Ad{
		ChatId:      chatId,
		MessageId:   messageId,
		SubmittedAt: time.Now().Unix(),
	}
	return d.advance(DealAdUnderReview)
}

// ApproveAd accepts the submitted creative. Publisher side only.
func (d *Deal) ApproveAd(r Role) error {
	if r.Side() != RolePublisher {
		return ErrPublisherOnly
	}
	if d.Status != DealAdUnderReview || d.Ad == nil {
		return ErrNoAdUnderReview
	}
	d.Ad.ApprovedAt = time.Now().Unix()
	d.Ad.RejectedAt = 0
	return d.advance(DealAwaitingPayment)
}

// RejectAd sends the creative back for rework. Publisher side only.
func (d *Deal) RejectAd(r Role) error {
	if r.Side() != RolePublisher {
		return ErrPublisherOnly
	}
	if d.Status != DealAdUnderReview || d.Ad == nil {
		return ErrNoAdUnderReview
	}
	d.Ad.RejectedAt = time.Now().Unix()
	d.Ad.ApprovedAt = 0
	return d.advance(DealAdRejected)
}

// SettlePayment records the verified on-chain payment and schedules the post.
func (d *Deal) SettlePayment(senderAddress, txHash string, postAt int64) error {
	if d.Status != DealAwaitingPayment {
		return ErrNotAwaitingPayment
	}
	d.Payment = &Payment{
		SenderAddress: senderAddress,
		TxHash:        txHash,
		PaidAt:        time.Now().Unix(),
	}
	d.Schedule = &Schedule{PostAt: postAt}
	return d.advance(DealScheduled)
}

// The Mark* methods below are driven by the external post-publication
// monitor through trusted endpoints.

func (d *Deal) MarkPosted(messageId int) error {
	if err := d.advance(DealPosted); err != nil {
		return err
	}
	if d.Schedule == nil {
		d.Schedule = &Schedule{}
	}
	d.Schedule.Post = &PostRef{MessageId: messageId, PostedAt: time.Now().Unix()}
	return nil
}

func (d *Deal) MarkVerified() error {
	if err := d.advance(DealVerified); err != nil {
		return err
	}
	d.Schedule.VerifiedAt = time.Now().Unix()
	return nil
}

func (d *Deal) MarkCompleted() error {
	return d.advance(DealCompleted)
}

func (d *Deal) MarkPostingFailed() error {
	return d.advance(DealPostingFailed)
}

// MarkRefunded terminates the deal after the escrowed payment went back to
// the advertiser because the post was edited or deleted.
func (d *Deal) MarkRefunded(status string) error {
	if status != DealRefundedEdit && status != DealRefundedDelete {
		return E(KindInvalid, "refund status must be refunded_edit or refunded_delete")
	}
	if err := d.advance(status); err != nil {
		return err
	}
	if d.Payment != nil {
		d.Payment.RefundedAt = time.Now().Unix()
	}
	return nil
}

// Cancel abandons a pre-payment deal. The inactivity policy that decides to
// call this lives outside the engine.
func (d *Deal) Cancel() error {
	if !d.IsPrePayment() {
		return E(KindConflict, fmt.Sprintf("deal in %s can no longer be cancelled", d.Status))
	}
	return d.advance(DealCancelled)
}
