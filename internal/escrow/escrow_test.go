package escrow

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telads/telads/config"
	"github.com/telads/telads/internal/common"
	"github.com/telads/telads/internal/ton"
	"github.com/telads/telads/misc"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	advertiserId = int64(100)
	publisherId  = int64(200)
)

var escrowRaw = "0:" + strings.Repeat("ab", 32)

type fakeSource struct {
	results []*ton.Transaction
	calls   int
}

func (f *fakeSource) GetTransaction(hash string) (*ton.Transaction, error) {
	if f.calls >= len(f.results) {
		return nil, nil
	}
	tx := f.results[f.calls]
	f.calls++
	return tx, nil
}

func testOrchestrator(t *testing.T, src ton.TransactionSource) (*Orchestrator, *bolt.DB, *config.Config) {
	t.Helper()

	cfg := &config.Config{IntentExpiryMin: 5}
	cfg.TON.Escrow = escrowRaw
	cfg.Bucket.Deal = "deal"
	cfg.Bucket.Channel = "channel"
	cfg.Bucket.Ledger = "ledger"
	cfg.Bucket.All = []string{"deal", "channel", "ledger", "index"}

	db := misc.OpenDB(t.TempDir()+"/", "test")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		for _, b := range cfg.Bucket.All {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	}))

	verifier := &ton.Verifier{Source: src, Attempts: 3, Delay: 0}
	o := New(db, cfg, verifier)
	o.Propagation = 0
	return o, db, cfg
}

// seedDeal stores a deal in awaiting_payment with an accepted total of 700 TON.
func seedDeal(t *testing.T, db *bolt.DB, cfg *config.Config) *common.Deal {
	t.Helper()

	d := common.NewDeal(advertiserId, publisherId, common.ChannelSnapshot{
		ChatId: -1001234,
		Title:  "Crypto Digest",
	}, common.AdTypePost, 100)
	d.Id = "1"
	d.Duration = 7
	d.Price = 700
	d.Status = common.DealAwaitingPayment

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		return misc.PutTxJson(tx, cfg.Bucket.Deal, d.Id, d)
	}))
	return d
}

func readDeal(t *testing.T, db *bolt.DB, cfg *config.Config, id string) *common.Deal {
	t.Helper()
	var d common.Deal
	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		return misc.GetTxJson(tx, cfg.Bucket.Deal, id, &d)
	}))
	return &d
}

// signedContainer builds a throwaway BOC whose hash stands in for a real
// signed transfer.
func signedContainer(t *testing.T, seed uint64) (signed, hash string) {
	t.Helper()
	c := cell.BeginCell().MustStoreUInt(seed, 64).EndCell()
	return base64.StdEncoding.EncodeToString(c.ToBOC()), fmt.Sprintf("%x", c.Hash())
}

func goodChainTx(hash string, amount int64) *ton.Transaction {
	return &ton.Transaction{
		Hash:    hash,
		Utime:   time.Now().Unix(),
		Comment: "deal:1",
		OutMsgs: []ton.Transfer{{
			Amount:      amount,
			Destination: escrowRaw,
			Source:      "0:" + strings.Repeat("cd", 32),
		}},
	}
}

func TestCreateIntent(t *testing.T) {
	o, db, cfg := testOrchestrator(t, &fakeSource{})
	seedDeal(t, db, cfg)

	intent, err := o.CreateIntent("1", advertiserId)
	require.NoError(t, err)
	assert.Equal(t, escrowRaw, intent.Recipient)
	assert.Equal(t, ton.ToNano(700*7), intent.Amount)
	assert.Equal(t, "deal:1", intent.Memo)
	assert.Greater(t, intent.ExpiresAt, time.Now().Unix())

	// escrow address assignment persists on the first call
	assert.Equal(t, escrowRaw, readDeal(t, db, cfg, "1").EscrowAddress)

	// repeat calls are stable
	again, err := o.CreateIntent("1", advertiserId)
	require.NoError(t, err)
	assert.Equal(t, intent.Recipient, again.Recipient)
	assert.Equal(t, intent.Amount, again.Amount)
}

func TestCreateIntentGuards(t *testing.T) {
	o, db, cfg := testOrchestrator(t, &fakeSource{})
	seedDeal(t, db, cfg)

	_, err := o.CreateIntent("1", publisherId)
	assert.ErrorIs(t, err, common.ErrAdvertiserOnly)

	_, err = o.CreateIntent("1", int64(999))
	assert.ErrorIs(t, err, common.ErrNotParty)

	_, err = o.CreateIntent("missing", advertiserId)
	assert.ErrorIs(t, err, common.ErrDealNotFound)

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		var d common.Deal
		if err := misc.GetTxJson(tx, cfg.Bucket.Deal, "1", &d); err != nil {
			return err
		}
		d.Status = common.DealNegotiating
		return misc.PutTxJson(tx, cfg.Bucket.Deal, "1", &d)
	}))
	_, err = o.CreateIntent("1", advertiserId)
	assert.ErrorIs(t, err, common.ErrNotAwaitingPayment)
}

func TestConfirmHappyPath(t *testing.T) {
	signed, hash := signedContainer(t, 1)
	src := &fakeSource{results: []*ton.Transaction{goodChainTx(hash, ton.ToNano(4900))}}
	o, db, cfg := testOrchestrator(t, src)
	seedDeal(t, db, cfg)

	postAt := time.Now().Add(time.Hour).Unix()
	conf, err := o.Confirm("1", advertiserId, signed, ScheduleReq{PostAt: postAt})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, conf.Status)
	assert.Equal(t, hash, conf.TxHash)
	assert.Equal(t, postAt, conf.PostAt)

	d := readDeal(t, db, cfg, "1")
	assert.Equal(t, common.DealScheduled, d.Status)
	assert.Equal(t, hash, d.Payment.TxHash)
	assert.Equal(t, postAt, d.Schedule.PostAt)

	// one ledger record keyed by the tx hash
	db.View(func(tx *bolt.Tx) error {
		var rec common.LedgerRecord
		require.NoError(t, misc.GetTxJson(tx, cfg.Bucket.Ledger, hash, &rec))
		assert.Equal(t, advertiserId, rec.UserId)
		assert.Equal(t, common.LedgerSent, rec.Direction)
		assert.Equal(t, ton.ToNano(4900), rec.Amount)
		return nil
	})
}

func TestConfirmImmediateSchedule(t *testing.T) {
	signed, hash := signedContainer(t, 2)
	src := &fakeSource{results: []*ton.Transaction{goodChainTx(hash, ton.ToNano(4900))}}
	o, db, cfg := testOrchestrator(t, src)
	seedDeal(t, db, cfg)

	before := time.Now().Unix()
	conf, err := o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, conf.Status)
	assert.GreaterOrEqual(t, conf.PostAt, before)
}

func TestConfirmRejectsPastPostAt(t *testing.T) {
	o, db, cfg := testOrchestrator(t, &fakeSource{})
	seedDeal(t, db, cfg)

	signed, _ := signedContainer(t, 3)
	_, err := o.Confirm("1", advertiserId, signed, ScheduleReq{PostAt: time.Now().Add(-time.Hour).Unix()})
	assert.ErrorIs(t, err, common.ErrBadPostAt)

	_, err = o.Confirm("1", advertiserId, signed, ScheduleReq{})
	assert.ErrorIs(t, err, common.ErrBadPostAt)
}

func TestConfirmAmountTooLow(t *testing.T) {
	signed, hash := signedContainer(t, 4)
	src := &fakeSource{results: []*ton.Transaction{goodChainTx(hash, ton.ToNano(4899))}}
	o, db, cfg := testOrchestrator(t, src)
	seedDeal(t, db, cfg)

	_, err := o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.Error(t, err)
	assert.Equal(t, common.KindChainRejected, common.KindOf(err))

	// the deal must not move
	assert.Equal(t, common.DealAwaitingPayment, readDeal(t, db, cfg, "1").Status)
}

func TestConfirmWrongRecipient(t *testing.T) {
	signed, hash := signedContainer(t, 5)
	chainTx := goodChainTx(hash, ton.ToNano(4900))
	chainTx.OutMsgs[0].Destination = "0:" + strings.Repeat("ef", 32)
	src := &fakeSource{results: []*ton.Transaction{chainTx}}
	o, db, cfg := testOrchestrator(t, src)
	seedDeal(t, db, cfg)

	_, err := o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.Error(t, err)
	assert.Equal(t, common.KindChainRejected, common.KindOf(err))
}

func TestConfirmMemoMismatch(t *testing.T) {
	signed, hash := signedContainer(t, 6)
	chainTx := goodChainTx(hash, ton.ToNano(4900))
	chainTx.Comment = "deal:9"
	src := &fakeSource{results: []*ton.Transaction{chainTx}}
	o, db, cfg := testOrchestrator(t, src)
	seedDeal(t, db, cfg)

	_, err := o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.Error(t, err)
	assert.Equal(t, common.KindChainRejected, common.KindOf(err))
}

func TestConfirmAbsentMemoTolerated(t *testing.T) {
	signed, hash := signedContainer(t, 7)
	chainTx := goodChainTx(hash, ton.ToNano(4900))
	chainTx.Comment = ""
	src := &fakeSource{results: []*ton.Transaction{chainTx}}
	o, db, cfg := testOrchestrator(t, src)
	seedDeal(t, db, cfg)

	conf, err := o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, conf.Status)
}

// Scenario: the transfer is not visible within the retry budget, the caller
// retries with the same container once it lands, settlement succeeds.
func TestConfirmPendingThenSuccess(t *testing.T) {
	signed, hash := signedContainer(t, 8)
	src := &fakeSource{} // nothing visible yet
	o, db, cfg := testOrchestrator(t, src)
	seedDeal(t, db, cfg)

	conf, err := o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingRetry, conf.Status)
	assert.Equal(t, hash, conf.TxHash)
	assert.Equal(t, common.DealAwaitingPayment, readDeal(t, db, cfg, "1").Status)

	// the transfer lands
	src.results = []*ton.Transaction{goodChainTx(hash, ton.ToNano(4900))}
	src.calls = 0

	conf, err = o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, conf.Status)
	assert.Equal(t, common.DealScheduled, readDeal(t, db, cfg, "1").Status)
}

// Re-confirming a settled container must be a no-op success, with exactly
// one ledger record.
func TestConfirmIdempotent(t *testing.T) {
	signed, hash := signedContainer(t, 9)
	src := &fakeSource{results: []*ton.Transaction{goodChainTx(hash, ton.ToNano(4900))}}
	o, db, cfg := testOrchestrator(t, src)
	seedDeal(t, db, cfg)

	first, err := o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, first.Status)

	second, err := o.Confirm("1", advertiserId, signed, ScheduleReq{Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, second.Status)
	assert.Equal(t, hash, second.TxHash)
	assert.Equal(t, first.PostAt, second.PostAt)

	// the short-circuit path never re-polled the chain
	assert.Equal(t, 1, src.calls)

	records := 0
	db.View(func(tx *bolt.Tx) error {
		return misc.GetBucket(tx, cfg.Bucket.Ledger).ForEach(func(k, v []byte) error {
			records++
			return nil
		})
	})
	assert.Equal(t, 1, records)
}

func TestConfirmRoleGuards(t *testing.T) {
	o, db, cfg := testOrchestrator(t, &fakeSource{})
	seedDeal(t, db, cfg)
	signed, _ := signedContainer(t, 10)

	_, err := o.Confirm("1", publisherId, signed, ScheduleReq{Immediate: true})
	assert.ErrorIs(t, err, common.ErrAdvertiserOnly)

	_, err = o.Confirm("1", int64(999), signed, ScheduleReq{Immediate: true})
	assert.ErrorIs(t, err, common.ErrNotParty)
}

func TestConfirmRejectsGarbageContainer(t *testing.T) {
	o, db, cfg := testOrchestrator(t, &fakeSource{})
	seedDeal(t, db, cfg)

	_, err := o.Confirm("1", advertiserId, "!!not-base64!!", ScheduleReq{Immediate: true})
	require.Error(t, err)
	assert.Equal(t, common.KindInvalid, common.KindOf(err))
}
