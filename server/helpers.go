package server

import (
	"strconv"

	"github.com/boltdb/bolt"
	"github.com/gin-gonic/gin"
	"github.com/telads/telads/internal/auth"
	"github.com/telads/telads/internal/common"
	"github.com/telads/telads/internal/metrics"
	"github.com/telads/telads/misc"
)

// actorId pulls the authenticated user id the session layer put on the
// request. Session issuance itself lives outside this service.
func actorId(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id == 0 {
		return 0, common.ErrUnauthenticated
	}
	return id, nil
}

func isTrustedCaller(c *gin.Context, s *Server) bool {
	return s.Cfg.InternalKey != "" && c.GetHeader("X-Internal-Key") == s.Cfg.InternalKey
}

func abortErr(c *gin.Context, err error) {
	c.JSON(common.HTTPStatus(err), misc.StatusErr(err.Error()))
}

func channelKey(chatId int64) string {
	return strconv.FormatInt(chatId, 10)
}

func (s *Server) getDeal(dealId string) (*common.Deal, error) {
	var d common.Deal
	s.db.View(func(tx *bolt.Tx) error {
		return misc.GetTxJson(tx, s.Cfg.Bucket.Deal, dealId, &d)
	})
	if d.Id == "" {
		return nil, common.ErrDealNotFound
	}
	return &d, nil
}

func (s *Server) getChannelTx(tx *bolt.Tx, chatId int64) *common.Channel {
	var ch common.Channel
	if misc.GetTxJson(tx, s.Cfg.Bucket.Channel, channelKey(chatId), &ch) != nil || ch.ChatId == 0 {
		return nil
	}
	return &ch
}

func (s *Server) saveChannelTx(tx *bolt.Tx, ch *common.Channel) error {
	ch.Touch()
	return misc.PutTxJson(tx, s.Cfg.Bucket.Channel, channelKey(ch.ChatId), ch)
}

// updateDeal re-reads the deal inside the write transaction, applies fn and
// persists the result. Concurrent actions against one deal are last write
// wins; the engine's only hard race guard is the ledger's tx-hash
// uniqueness, which lives in the escrow package.
func (s *Server) updateDeal(dealId string, fn func(*common.Deal) error) (*common.Deal, error) {
	var out *common.Deal
	err := s.db.Update(func(tx *bolt.Tx) error {
		var d common.Deal
		if misc.GetTxJson(tx, s.Cfg.Bucket.Deal, dealId, &d) != nil || d.Id == "" {
			return common.ErrDealNotFound
		}
		if err := fn(&d); err != nil {
			return err
		}
		if err := misc.PutTxJson(tx, s.Cfg.Bucket.Deal, d.Id, &d); err != nil {
			return err
		}
		out = &d
		return nil
	})
	return out, err
}

// revalidateManager enforces the live-roster rule: a manager acting on the
// publisher's behalf must still be an admin of the channel right now. On a
// demotion the manager is dropped from both the deal and the channel roster
// before the action is rejected.
func (s *Server) revalidateManager(d *common.Deal, userId int64) error {
	if d.RoleOf(userId) != common.RoleManager || s.members == nil {
		return nil
	}

	res := auth.Revalidate(s.members, d.Channel.ChatId, userId, d.ManagerIds)
	if res.IsAdmin {
		return nil
	}

	if _, err := s.updateDeal(d.Id, func(dd *common.Deal) error {
		dd.ManagerIds = res.ManagerIds
		return nil
	}); err != nil {
		s.Alert("failed to persist manager demotion on deal "+d.Id, err)
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		ch := s.getChannelTx(tx, d.Channel.ChatId)
		if ch == nil {
			return nil
		}
		ch.ManagerIds = misc.Remove(ch.ManagerIds, userId)
		return s.saveChannelTx(tx, ch)
	}); err != nil {
		s.Alert("failed to persist manager demotion on channel", err)
	}

	metrics.ManagerDemoted()
	return common.ErrNoLongerAdmin
}
