package server

import (
	"log"
	"net/http"

	"github.com/boltdb/bolt"
	"github.com/gin-gonic/gin"
	"github.com/telads/telads/config"
	"github.com/telads/telads/internal/auth"
	"github.com/telads/telads/internal/escrow"
	"github.com/telads/telads/internal/metrics"
	"github.com/telads/telads/internal/telegram"
	"github.com/telads/telads/internal/ton"
	"github.com/telads/telads/misc"
)

type Server struct {
	Cfg *config.Config

	db *bolt.DB
	r  *gin.Engine

	bot     *telegram.Bot
	members auth.ChatMemberSource

	esc *escrow.Orchestrator
}

func New(cfg *config.Config, r *gin.Engine) (*Server, error) {
	srv := &Server{
		Cfg: cfg,
		r:   r,
		db:  misc.OpenDB(cfg.DBPath, cfg.DBName),
	}

	if err := srv.initializeDB(); err != nil {
		return nil, err
	}

	if cfg.Telegram.Token != "" {
		bot, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.SendPerSec)
		if err != nil {
			return nil, err
		}
		srv.bot = bot
		srv.members = bot
	} else {
		log.Println("No telegram token configured, running without platform integration")
	}

	verifier := &ton.Verifier{
		Source:   ton.NewClient(cfg.TON.Endpoint, cfg.TON.APIKey),
		Attempts: cfg.TON.VerifyAttempts,
		Delay:    cfg.VerifyDelay(),
	}
	srv.esc = escrow.New(srv.db, cfg, verifier)

	srv.initializeRoutes()

	return srv, nil
}

func (s *Server) initializeDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range s.Cfg.Bucket.All {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return misc.InitIndex(tx, s.Cfg.Bucket.Deal, 1)
	})
}

func (s *Server) initializeRoutes() {
	s.r.GET("/metrics", func(c *gin.Context) {
		c.Status(http.StatusOK)
		metrics.WritePrometheus(c.Writer)
	})

	api := s.r.Group("/api/v1")

	// Deal creation, both application paths
	api.POST("/deal/applyToChannel", applyToChannel(s))
	api.POST("/deal/applyToCampaign", applyToCampaign(s))

	api.GET("/deals", getDealsForUser(s))
	api.GET("/deal/:dealId", getDeal(s))

	// Negotiation
	api.PUT("/deal/:dealId/duration", setDuration(s))
	api.POST("/deal/:dealId/proposePrice", proposePrice(s))
	api.POST("/deal/:dealId/acceptPrice", acceptPrice(s))

	// Creative review; submission comes from the bot integration only
	api.POST("/deal/:dealId/ad", submitAd(s))
	api.POST("/deal/:dealId/ad/approve", approveAd(s))
	api.POST("/deal/:dealId/ad/reject", rejectAd(s))

	// Escrow payment
	api.GET("/deal/:dealId/paymentIntent", getPaymentIntent(s))
	api.POST("/deal/:dealId/confirmPayment", confirmPayment(s))
	api.GET("/transactions", getTransactionHistory(s))

	// Channels
	api.POST("/channel", putChannel(s))
	api.GET("/channel/:chatId", getChannel(s))

	// Hooks for the external post monitor and inactivity policy
	api.POST("/deal/:dealId/posted", markPosted(s))
	api.POST("/deal/:dealId/postVerified", markVerified(s))
	api.POST("/deal/:dealId/completed", markCompleted(s))
	api.POST("/deal/:dealId/postingFailed", markPostingFailed(s))
	api.POST("/deal/:dealId/refunded", markRefunded(s))
	api.POST("/deal/:dealId/cancel", cancelDeal(s))
}

func (s *Server) Run() error {
	return s.r.Run(s.Cfg.Host + ":" + s.Cfg.Port)
}

func (s *Server) Close() error {
	return s.db.Close()
}
