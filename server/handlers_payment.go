package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/gin-gonic/gin"
	"github.com/telads/telads/internal/common"
	"github.com/telads/telads/internal/escrow"
	"github.com/telads/telads/internal/ton"
	"github.com/telads/telads/misc"
)

func getPaymentIntent(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		intent, err := s.esc.CreateIntent(c.Param("dealId"), actor)
		if err != nil {
			abortErr(c, err)
			return
		}

		c.JSON(200, intent)
	}
}

func confirmPayment(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		var req struct {
			SignedTx string             `json:"signedTx"` // base64 signed message container
			Schedule escrow.ScheduleReq `json:"schedule"`
		}
		if err := misc.BindJSON(c, &req); err != nil || req.SignedTx == "" {
			abortErr(c, common.E(common.KindInvalid, "malformed request body"))
			return
		}

		dealId := c.Param("dealId")
		conf, err := s.esc.Confirm(dealId, actor, req.SignedTx, req.Schedule)
		if err != nil {
			abortErr(c, err)
			return
		}

		if conf.Status == escrow.StatusPendingRetry {
			// Not a failure: the transfer just is not visible yet. The
			// client re-invokes confirmation with the same container.
			c.JSON(202, conf)
			return
		}

		if deal, err := s.getDeal(dealId); err == nil {
			s.notifyPublisherSide(deal.PublisherId, deal.ManagerIds,
				fmt.Sprintf("Deal funded with %.2f TON, post scheduled", deal.Total()), deal.Id)
		}
		c.JSON(200, conf)
	}
}

// appendPayoutRecord mirrors the escrow release into the publisher's
// transaction history once the deal completes. Best effort; the deal status
// is the authoritative record.
func (s *Server) appendPayoutRecord(d *common.Deal) {
	if d.Payment == nil || d.Payment.TxHash == "" {
		return
	}
	rec := &common.LedgerRecord{
		TxHash:    d.Payment.TxHash,
		UserId:    d.PublisherId,
		Direction: common.LedgerReceived,
		Amount:    ton.ToNano(d.Total()),
		From:      d.EscrowAddress,
		To:        d.Channel.PayoutAddress,
		Label:     fmt.Sprintf("Payout for ad placement in %s", d.Channel.Title),
		CreatedAt: time.Now().Unix(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return misc.PutTxJson(tx, s.Cfg.Bucket.Ledger, d.Payment.TxHash+":payout", rec)
	})
	if err != nil {
		s.Alert("failed to append payout record for deal "+d.Id, err)
	}
}

// getTransactionHistory lists the acting user's ledger records, newest
// last. This history is independent of any single deal.
func getTransactionHistory(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		records := []*common.LedgerRecord{}
		s.db.View(func(tx *bolt.Tx) error {
			return misc.GetBucket(tx, s.Cfg.Bucket.Ledger).ForEach(func(k, v []byte) error {
				var rec common.LedgerRecord
				if json.Unmarshal(v, &rec) != nil {
					return nil
				}
				if rec.UserId == actor {
					records = append(records, &rec)
				}
				return nil
			})
		})

		c.JSON(200, records)
	}
}
