// Package escrow computes payment intents for deals awaiting payment and
// settles them once the transfer is confirmed on chain.
package escrow

import (
	"fmt"
	"log"
	"time"

	"github.com/boltdb/bolt"
	"github.com/telads/telads/config"
	"github.com/telads/telads/internal/common"
	"github.com/telads/telads/internal/metrics"
	"github.com/telads/telads/internal/ton"
	"github.com/telads/telads/misc"
)

// Confirmation statuses
const (
	StatusConfirmed    = "confirmed"
	StatusPendingRetry = "pending_retry"
)

type Intent struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"` // nanotons
	Memo      string `json:"memo"`
	ExpiresAt int64  `json:"expiresAt"`
}

type ScheduleReq struct {
	Immediate bool  `json:"immediate"`
	PostAt    int64 `json:"postAt,omitempty"` // unix, required unless immediate
}

type Confirmation struct {
	Status string `json:"status"` // confirmed | pending_retry
	TxHash string `json:"txHash,omitempty"`
	PostAt int64  `json:"postAt,omitempty"`
}

type Orchestrator struct {
	db       *bolt.DB
	cfg      *config.Config
	verifier *ton.Verifier

	// Overridable in tests; defaults come from config.
	Propagation time.Duration
}

func New(db *bolt.DB, cfg *config.Config, verifier *ton.Verifier) *Orchestrator {
	return &Orchestrator{
		db:          db,
		cfg:         cfg,
		verifier:    verifier,
		Propagation: cfg.PropagationDelay(),
	}
}

func (o *Orchestrator) getDealTx(tx *bolt.Tx, dealId string) (*common.Deal, error) {
	var d common.Deal
	if misc.GetTxJson(tx, o.cfg.Bucket.Deal, dealId, &d) != nil || d.Id == "" {
		return nil, common.ErrDealNotFound
	}
	return &d, nil
}

func (o *Orchestrator) saveDealTx(tx *bolt.Tx, d *common.Deal) error {
	return misc.PutTxJson(tx, o.cfg.Bucket.Deal, d.Id, d)
}

// escrowFor is the recipient the advertiser must pay: the deal's own address
// once assigned, the process-wide configured one before that.
func (o *Orchestrator) escrowFor(d *common.Deal) string {
	if d.EscrowAddress != "" {
		return d.EscrowAddress
	}
	return o.cfg.TON.Escrow
}

// CreateIntent computes the payment the advertiser owes. Safe to call
// repeatedly; its only write is the one-time lazy escrow-address
// assignment.
func (o *Orchestrator) CreateIntent(dealId string, actorId int64) (*Intent, error) {
	var intent *Intent
	err := o.db.Update(func(tx *bolt.Tx) error {
		deal, err := o.getDealTx(tx, dealId)
		if err != nil {
			return err
		}
		switch deal.RoleOf(actorId) {
		case common.RoleAdvertiser:
		case common.RoleNone:
			return common.ErrNotParty
		default:
			return common.ErrAdvertiserOnly
		}
		if deal.Status != common.DealAwaitingPayment {
			return common.ErrNotAwaitingPayment
		}
		if deal.Payment != nil && deal.Payment.TxHash != "" {
			return common.ErrAlreadyPaid
		}

		if deal.EscrowAddress == "" {
			addr, err := ton.NormalizeAddress(o.cfg.TON.Escrow)
			if err != nil {
				return common.E(common.KindInternal, "escrow address misconfigured")
			}
			deal.EscrowAddress = addr
			if err := o.saveDealTx(tx, deal); err != nil {
				return err
			}
		}

		total := deal.Total()
		if total <= 0 {
			return common.ErrZeroTotal
		}

		intent = &Intent{
			Recipient: deal.EscrowAddress,
			Amount:    ton.ToNano(total),
			Memo:      ton.DealMemo(deal.Id),
			ExpiresAt: time.Now().Add(o.cfg.IntentExpiry()).Unix(),
		}
		return nil
	})
	return intent, err
}

// Confirm runs the confirmation pipeline: derive the hash from the signed
// container, short-circuit on anything already settled, wait out chain
// propagation, resolve the transaction through the bounded-retry verifier,
// validate it against the expected payment and commit the settlement.
// A verifier timeout is not a failure; the caller retries with the same
// container once the transfer lands.
func (o *Orchestrator) Confirm(dealId string, actorId int64, signedTx string, sched ScheduleReq) (*Confirmation, error) {
	postAt := time.Now().Unix()
	if !sched.Immediate {
		if sched.PostAt <= time.Now().Unix() {
			return nil, common.ErrBadPostAt
		}
		postAt = sched.PostAt
	}

	hash, err := ton.HashSignedTx(signedTx)
	if err != nil {
		return nil, common.E(common.KindInvalid, err.Error())
	}

	// Idempotency: a ledger record or an already-paid deal means this
	// container was settled before; report success without touching
	// anything again.
	var (
		deal    *common.Deal
		settled *Confirmation
	)
	err = o.db.View(func(tx *bolt.Tx) error {
		d, err := o.getDealTx(tx, dealId)
		if err != nil {
			return err
		}
		switch d.RoleOf(actorId) {
		case common.RoleAdvertiser:
		case common.RoleNone:
			return common.ErrNotParty
		default:
			return common.ErrAdvertiserOnly
		}

		if misc.GetBucket(tx, o.cfg.Bucket.Ledger).Get([]byte(hash)) != nil {
			settled = o.confirmationFor(d, hash)
			return nil
		}
		if d.Payment != nil && d.Payment.TxHash != "" {
			settled = o.confirmationFor(d, d.Payment.TxHash)
			return nil
		}
		if d.Status != common.DealAwaitingPayment {
			return common.ErrNotAwaitingPayment
		}
		deal = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settled != nil {
		return settled, nil
	}

	expected := ton.ToNano(deal.Total())
	if expected <= 0 {
		return nil, common.ErrZeroTotal
	}
	escrowAddr, err := ton.NormalizeAddress(o.escrowFor(deal))
	if err != nil {
		return nil, common.E(common.KindInternal, "escrow address misconfigured")
	}

	// Give the chain a moment to propagate before the first lookup.
	time.Sleep(o.Propagation)

	chainTx, err := o.verifier.Wait(hash)
	if err == ton.ErrNotConfirmed {
		log.Printf("[ESCROW] tx %s for deal %s not visible yet, telling caller to retry", hash, dealId)
		return &Confirmation{Status: StatusPendingRetry, TxHash: hash}, nil
	}
	if err != nil {
		return nil, common.E(common.KindUnavailable, "ledger indexer unavailable")
	}

	transfer, err := validateTransfer(chainTx, expected, escrowAddr, dealId)
	if err != nil {
		return nil, err
	}

	sender := transfer.Source
	if norm, err := ton.NormalizeAddress(sender); err == nil {
		sender = norm
	}

	conf := &Confirmation{Status: StatusConfirmed, TxHash: hash, PostAt: postAt}
	err = o.db.Update(func(tx *bolt.Tx) error {
		d, err := o.getDealTx(tx, dealId)
		if err != nil {
			return err
		}

		// Recheck under the write lock: a racing confirm may have won.
		// The ledger put below is the system-wide uniqueness guard on the
		// tx hash, so at most one settlement records it.
		if d.Payment != nil && d.Payment.TxHash != "" {
			conf = o.confirmationFor(d, d.Payment.TxHash)
			return nil
		}
		ledger := misc.GetBucket(tx, o.cfg.Bucket.Ledger)
		if ledger.Get([]byte(hash)) != nil {
			conf = o.confirmationFor(d, hash)
			return nil
		}

		d.EscrowAddress = escrowAddr
		if err := d.SettlePayment(sender, hash, postAt); err != nil {
			return err
		}

		// Best effort: the deal's own payment record is authoritative, a
		// history row that fails to write must not block settlement.
		rec := &common.LedgerRecord{
			TxHash:    hash,
			UserId:    d.AdvertiserId,
			Direction: common.LedgerSent,
			Amount:    expected,
			From:      sender,
			To:        escrowAddr,
			Label:     fmt.Sprintf("Ad placement in %s", d.Channel.Title),
			CreatedAt: time.Now().Unix(),
		}
		if err := misc.PutTxJson(tx, o.cfg.Bucket.Ledger, hash, rec); err != nil {
			log.Printf("[ESCROW] failed to append ledger record for tx %s: %v", hash, err)
		}

		if err := o.saveDealTx(tx, d); err != nil {
			return err
		}

		metrics.PaymentSettled()
		metrics.DealTransition(common.DealScheduled)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conf, nil
}

func (o *Orchestrator) confirmationFor(d *common.Deal, hash string) *Confirmation {
	conf := &Confirmation{Status: StatusConfirmed, TxHash: hash}
	if d.Schedule != nil {
		conf.PostAt = d.Schedule.PostAt
	}
	return conf
}

// validateTransfer checks the resolved transaction against the expected
// payment, in order, stopping at the first failure.
func validateTransfer(tx *ton.Transaction, expected int64, escrowAddr, dealId string) (*ton.Transfer, error) {
	if tx.Aborted {
		return nil, common.E(common.KindChainRejected, "transaction was aborted on chain")
	}
	if tx.Utime == 0 {
		return nil, common.E(common.KindChainRejected, "transaction has no confirmation time")
	}
	if len(tx.OutMsgs) == 0 {
		return nil, common.E(common.KindChainRejected, "transaction has no outgoing transfer")
	}

	transfer := &tx.OutMsgs[0]
	if transfer.Amount < expected {
		return nil, common.E(common.KindChainRejected,
			fmt.Sprintf("transferred amount %d is below the expected %d", transfer.Amount, expected))
	}

	dest, err := ton.NormalizeAddress(transfer.Destination)
	if err != nil || dest != escrowAddr {
		return nil, common.E(common.KindChainRejected, "transfer recipient is not the escrow address")
	}

	if !ton.MemoMatches(tx.Comment, dealId) {
		return nil, common.E(common.KindChainRejected, "payment comment does not reference this deal")
	}
	return transfer, nil
}
