package server

import (
	"strconv"
	"time"

	"github.com/boltdb/bolt"
	"github.com/gin-gonic/gin"
	"github.com/telads/telads/internal/common"
	"github.com/telads/telads/misc"
)

// putChannel registers or updates a channel listing. Full channel CRUD
// lives elsewhere; this is the minimal write path the engine needs so the
// manager roster has a home.
func putChannel(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorId(c)
		if err != nil && !isTrustedCaller(c, s) {
			abortErr(c, err)
			return
		}

		var ch common.Channel
		if err := misc.BindJSON(c, &ch); err != nil || ch.ChatId == 0 {
			abortErr(c, common.E(common.KindInvalid, "malformed request body"))
			return
		}

		err = s.db.Update(func(tx *bolt.Tx) error {
			if existing := s.getChannelTx(tx, ch.ChatId); existing != nil {
				if !isTrustedCaller(c, s) && existing.OwnerId != actor {
					return common.ErrNotParty
				}
				ch.OwnerId = existing.OwnerId
				ch.CreatedAt = existing.CreatedAt
			} else {
				if ch.OwnerId == 0 {
					ch.OwnerId = actor
				}
				ch.CreatedAt = time.Now().Unix()
			}
			return s.saveChannelTx(tx, &ch)
		})
		if err != nil {
			abortErr(c, err)
			return
		}

		c.JSON(200, misc.StatusOK(channelKey(ch.ChatId)))
	}
}

func getChannel(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatId, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
		if err != nil {
			abortErr(c, common.E(common.KindInvalid, "bad chat id"))
			return
		}

		var ch *common.Channel
		s.db.View(func(tx *bolt.Tx) error {
			ch = s.getChannelTx(tx, chatId)
			return nil
		})
		if ch == nil {
			abortErr(c, common.ErrChannelNotFound)
			return
		}

		c.JSON(200, ch)
	}
}
