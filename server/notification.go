package server

import (
	"log"

	"github.com/getsentry/sentry-go"
)

// Notify fires a one-way message at a user; nothing downstream depends on
// its outcome.
func (s *Server) Notify(userId int64, msg, dealId string) {
	if s.bot == nil || userId == 0 {
		return
	}
	go s.bot.Notify(userId, msg, dealId)
}

// notifyPublisherSide fans a message out to the publisher and every
// delegate currently on the deal.
func (s *Server) notifyPublisherSide(publisherId int64, managerIds []int64, msg, dealId string) {
	s.Notify(publisherId, msg, dealId)
	for _, id := range managerIds {
		s.Notify(id, msg, dealId)
	}
}

// Alert reports an operational failure that needs human eyes.
func (s *Server) Alert(msg string, err error) {
	log.Println("ALERT:", msg, err)
	if s.Cfg.Sentry.DSN == "" {
		return
	}
	if err != nil {
		sentry.CaptureException(err)
	} else {
		sentry.CaptureMessage(msg)
	}
}
