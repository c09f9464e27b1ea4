package server

import (
	"github.com/gin-gonic/gin"
	"github.com/telads/telads/internal/common"
	"github.com/telads/telads/internal/metrics"
	"github.com/telads/telads/misc"
)

// The post-publication monitor and the inactivity policy live outside this
// service; these trusted hooks are how their verdicts reach the deal.

func monitorHook(s *Server, fn func(*common.Deal, *gin.Context) error, done func(*Server, *common.Deal)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isTrustedCaller(c, s) {
			abortErr(c, common.ErrNotParty)
			return
		}

		deal, err := s.updateDeal(c.Param("dealId"), func(d *common.Deal) error {
			return fn(d, c)
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		metrics.DealTransition(deal.Status)
		if done != nil {
			done(s, deal)
		}
		c.JSON(200, gin.H{"status": deal.Status})
	}
}

func markPosted(s *Server) gin.HandlerFunc {
	return monitorHook(s, func(d *common.Deal, c *gin.Context) error {
		var req struct {
			MessageId int `json:"messageId"`
		}
		if err := misc.BindJSON(c, &req); err != nil || req.MessageId == 0 {
			return common.E(common.KindInvalid, "malformed request body")
		}
		return d.MarkPosted(req.MessageId)
	}, func(s *Server, d *common.Deal) {
		s.Notify(d.AdvertiserId, "Your ad has been posted", d.Id)
	})
}

func markVerified(s *Server) gin.HandlerFunc {
	return monitorHook(s, func(d *common.Deal, _ *gin.Context) error {
		return d.MarkVerified()
	}, nil)
}

func markCompleted(s *Server) gin.HandlerFunc {
	return monitorHook(s, func(d *common.Deal, _ *gin.Context) error {
		return d.MarkCompleted()
	}, func(s *Server, d *common.Deal) {
		s.appendPayoutRecord(d)
		s.Notify(d.AdvertiserId, "Deal completed", d.Id)
		s.notifyPublisherSide(d.PublisherId, d.ManagerIds, "Deal completed, payout released", d.Id)
	})
}

func markPostingFailed(s *Server) gin.HandlerFunc {
	return monitorHook(s, func(d *common.Deal, _ *gin.Context) error {
		return d.MarkPostingFailed()
	}, func(s *Server, d *common.Deal) {
		s.Notify(d.AdvertiserId, "Posting failed, support will follow up", d.Id)
	})
}

func markRefunded(s *Server) gin.HandlerFunc {
	return monitorHook(s, func(d *common.Deal, c *gin.Context) error {
		var req struct {
			Status string `json:"status"` // refunded_edit or refunded_delete
		}
		if err := misc.BindJSON(c, &req); err != nil {
			return common.E(common.KindInvalid, "malformed request body")
		}
		return d.MarkRefunded(req.Status)
	}, func(s *Server, d *common.Deal) {
		s.Notify(d.AdvertiserId, "The post was altered, your payment was refunded", d.Id)
	})
}

func cancelDeal(s *Server) gin.HandlerFunc {
	return monitorHook(s, func(d *common.Deal, _ *gin.Context) error {
		return d.Cancel()
	}, func(s *Server, d *common.Deal) {
		s.Notify(d.AdvertiserId, "Deal cancelled due to inactivity", d.Id)
		s.notifyPublisherSide(d.PublisherId, d.ManagerIds, "Deal cancelled due to inactivity", d.Id)
	})
}
