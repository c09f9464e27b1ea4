package server

import (
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/gin-gonic/gin"
	"github.com/telads/telads/internal/common"
	"github.com/telads/telads/internal/metrics"
	"github.com/telads/telads/misc"
)

///////// Deal creation /////////

// applyToChannel is the advertiser path: the acting user wants a placement
// in a listed channel and becomes the deal's advertiser.
func applyToChannel(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		var req struct {
			ChannelChatId int64  `json:"channelChatId"`
			AdType        string `json:"adType"`
		}
		if err := misc.BindJSON(c, &req); err != nil {
			abortErr(c, common.E(common.KindInvalid, "malformed request body"))
			return
		}

		deal, err := s.createDeal(req.ChannelChatId, req.AdType, func(ch *common.Channel) (int64, int64, *common.CampaignRef, error) {
			return actor, ch.OwnerId, nil, nil
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		s.notifyPublisherSide(deal.PublisherId, deal.ManagerIds,
			fmt.Sprintf("New placement request for %s", deal.Channel.Title), deal.Id)
		c.JSON(200, deal)
	}
}

// applyToCampaign is the publisher path: the channel side applies to an
// advertiser's campaign, so the roles flip relative to applyToChannel.
func applyToCampaign(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		var req struct {
			ChannelChatId int64              `json:"channelChatId"`
			AdType        string             `json:"adType"`
			AdvertiserId  int64              `json:"advertiserId"`
			Campaign      common.CampaignRef `json:"campaign"`
		}
		if err := misc.BindJSON(c, &req); err != nil || req.AdvertiserId == 0 || req.Campaign.Id == "" {
			abortErr(c, common.E(common.KindInvalid, "malformed request body"))
			return
		}

		deal, err := s.createDeal(req.ChannelChatId, req.AdType, func(ch *common.Channel) (int64, int64, *common.CampaignRef, error) {
			if ch.OwnerId != actor && !misc.Contains(ch.ManagerIds, actor) {
				return 0, 0, nil, common.ErrNotParty
			}
			return req.AdvertiserId, ch.OwnerId, &req.Campaign, nil
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		s.Notify(deal.AdvertiserId,
			fmt.Sprintf("%s applied to your campaign %q", deal.Channel.Title, req.Campaign.Title), deal.Id)
		c.JSON(200, deal)
	}
}

// createDeal snapshots the channel terms onto a fresh deal. The parties
// callback decides who sits on which side.
func (s *Server) createDeal(chatId int64, adType string,
	parties func(*common.Channel) (advertiser, publisher int64, campaign *common.CampaignRef, err error)) (*common.Deal, error) {

	switch adType {
	case common.AdTypePost, common.AdTypeStory, common.AdTypePostWithForward:
	default:
		return nil, common.E(common.KindInvalid, "unknown ad type")
	}

	var deal *common.Deal
	err := s.db.Update(func(tx *bolt.Tx) error {
		ch := s.getChannelTx(tx, chatId)
		if ch == nil {
			return common.ErrChannelNotFound
		}

		rate, ok := ch.Prices[adType]
		if !ok || rate <= 0 {
			return common.E(common.KindInvalid, "channel does not list this ad type")
		}

		advertiser, publisher, campaign, err := parties(ch)
		if err != nil {
			return err
		}

		deal = common.NewDeal(advertiser, publisher, ch.Snapshot(), adType, rate)
		deal.Campaign = campaign
		deal.ManagerIds = append([]int64(nil), ch.ManagerIds...)

		if deal.Id, err = misc.GetNextIndex(tx, s.Cfg.Bucket.Deal); err != nil {
			return err
		}
		return misc.PutTxJson(tx, s.Cfg.Bucket.Deal, deal.Id, deal)
	})
	if err != nil {
		return nil, err
	}

	metrics.DealCreated()
	return deal, nil
}

///////// Reads /////////

func getDeal(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		deal, err := s.getDeal(c.Param("dealId"))
		if err != nil {
			abortErr(c, err)
			return
		}

		if !isTrustedCaller(c, s) {
			actor, err := actorId(c)
			if err != nil {
				abortErr(c, err)
				return
			}
			if deal.RoleOf(actor) == common.RoleNone {
				abortErr(c, common.ErrNotParty)
				return
			}
			// viewing the deal (and its creative) is a publisher-side
			// privilege for managers, so it rechecks the live roster too
			if err := s.revalidateManager(deal, actor); err != nil {
				abortErr(c, err)
				return
			}
		}

		c.JSON(200, deal)
	}
}

func getDealsForUser(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		deals := []*common.Deal{}
		s.db.View(func(tx *bolt.Tx) error {
			return misc.GetBucket(tx, s.Cfg.Bucket.Deal).ForEach(func(k, v []byte) error {
				var d common.Deal
				if json.Unmarshal(v, &d) != nil {
					return nil
				}
				if d.RoleOf(actor) != common.RoleNone {
					deals = append(deals, &d)
				}
				return nil
			})
		})

		// revalidation writes on demotion, so it runs outside the View
		out := deals[:0]
		for _, d := range deals {
			if s.revalidateManager(d, actor) == nil {
				out = append(out, d)
			}
		}

		c.JSON(200, out)
	}
}

///////// Negotiation /////////

func setDuration(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		var req struct {
			Days int `json:"days"`
		}
		if err := misc.BindJSON(c, &req); err != nil {
			abortErr(c, common.E(common.KindInvalid, "malformed request body"))
			return
		}

		deal, err := s.updateDeal(c.Param("dealId"), func(d *common.Deal) error {
			role := d.RoleOf(actor)
			if role == common.RoleNone {
				return common.ErrNotParty
			}
			return d.SetDuration(role, req.Days)
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		metrics.DealTransition(deal.Status)
		c.JSON(200, gin.H{"duration": deal.Duration, "status": deal.Status})
	}
}

func proposePrice(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		var req struct {
			Price float64 `json:"price"` // a total, not per-day
		}
		if err := misc.BindJSON(c, &req); err != nil {
			abortErr(c, common.E(common.KindInvalid, "malformed request body"))
			return
		}

		current, err := s.getDeal(c.Param("dealId"))
		if err != nil {
			abortErr(c, err)
			return
		}
		if current.RoleOf(actor) == common.RoleNone {
			abortErr(c, common.ErrNotParty)
			return
		}
		if err := s.revalidateManager(current, actor); err != nil {
			abortErr(c, err)
			return
		}

		deal, err := s.updateDeal(current.Id, func(d *common.Deal) error {
			return d.ProposePrice(d.RoleOf(actor), req.Price)
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		metrics.DealTransition(deal.Status)
		s.notifyCounterpart(deal, actor, fmt.Sprintf("New price offer: %.2f TON", req.Price))
		c.JSON(200, gin.H{"negotiation": deal.Negotiation, "status": deal.Status})
	}
}

func acceptPrice(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		current, err := s.getDeal(c.Param("dealId"))
		if err != nil {
			abortErr(c, err)
			return
		}
		if current.RoleOf(actor) == common.RoleNone {
			abortErr(c, common.ErrNotParty)
			return
		}
		if err := s.revalidateManager(current, actor); err != nil {
			abortErr(c, err)
			return
		}

		deal, err := s.updateDeal(current.Id, func(d *common.Deal) error {
			return d.AcceptPrice(d.RoleOf(actor))
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		metrics.DealTransition(deal.Status)
		s.notifyCounterpart(deal, actor, fmt.Sprintf("Price agreed at %.2f TON, awaiting the creative", deal.Price))
		c.JSON(200, gin.H{"price": deal.Price, "status": deal.Status})
	}
}

// notifyCounterpart messages whichever side did not act.
func (s *Server) notifyCounterpart(d *common.Deal, actor int64, msg string) {
	if d.RoleOf(actor) == common.RoleAdvertiser {
		s.notifyPublisherSide(d.PublisherId, d.ManagerIds, msg, d.Id)
	} else {
		s.Notify(d.AdvertiserId, msg, d.Id)
	}
}

///////// Creative review /////////

// submitAd is restricted to the bot integration, which forwards the
// creative message on behalf of the advertiser.
func submitAd(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isTrustedCaller(c, s) {
			abortErr(c, common.ErrNotParty)
			return
		}

		var req struct {
			ChatId    int64 `json:"chatId"`
			MessageId int   `json:"messageId"`
		}
		if err := misc.BindJSON(c, &req); err != nil || req.ChatId == 0 || req.MessageId == 0 {
			abortErr(c, common.E(common.KindInvalid, "malformed request body"))
			return
		}

		deal, err := s.updateDeal(c.Param("dealId"), func(d *common.Deal) error {
			return d.SubmitAd(req.ChatId, req.MessageId)
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		metrics.DealTransition(deal.Status)
		s.notifyPublisherSide(deal.PublisherId, deal.ManagerIds, "A creative is awaiting your review", deal.Id)
		c.JSON(200, gin.H{"status": deal.Status, "ad": deal.Ad})
	}
}

func approveAd(s *Server) gin.HandlerFunc {
	return reviewAd(s, true)
}

func rejectAd(s *Server) gin.HandlerFunc {
	return reviewAd(s, false)
}

func reviewAd(s *Server, approve bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil {
			abortErr(c, err)
			return
		}

		current, err := s.getDeal(c.Param("dealId"))
		if err != nil {
			abortErr(c, err)
			return
		}
		if current.RoleOf(actor) == common.RoleNone {
			abortErr(c, common.ErrNotParty)
			return
		}
		if err := s.revalidateManager(current, actor); err != nil {
			abortErr(c, err)
			return
		}

		deal, err := s.updateDeal(current.Id, func(d *common.Deal) error {
			if approve {
				return d.ApproveAd(d.RoleOf(actor))
			}
			return d.RejectAd(d.RoleOf(actor))
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		metrics.DealTransition(deal.Status)
		if approve {
			s.Notify(deal.AdvertiserId, "Your creative was approved, the deal awaits payment", deal.Id)
			c.JSON(200, gin.H{"status": deal.Status, "approvedAt": deal.Ad.ApprovedAt})
		} else {
			s.Notify(deal.AdvertiserId, "Your creative was rejected, please submit a new one", deal.Id)
			c.JSON(200, gin.H{"status": deal.Status, "rejectedAt": deal.Ad.RejectedAt})
		}
	}
}
