package ton

import (
	"errors"
	"log"
	"time"

	"github.com/telads/telads/internal/metrics"
)

// ErrNotConfirmed means the retry budget ran out before the indexer reported
// the transaction with a confirmation time. It is retryable by the caller
// and distinct from a chain-level rejection.
var ErrNotConfirmed = errors.New("transaction not confirmed after retries")

// TransactionSource is what the Verifier polls; satisfied by *Client.
type TransactionSource interface {
	GetTransaction(hash string) (*Transaction, error)
}

// Verifier resolves a transaction hash by polling the indexer a bounded
// number of times with a flat interval between attempts. Attempts and Delay
// are injectable so tests can run with near-zero delays.
type Verifier struct {
	Source   TransactionSource
	Attempts int
	Delay    time.Duration
}

// Wait blocks until the transaction is reported with a nonzero confirmation
// time or the attempt budget is exhausted. Indexer errors count as failed
// attempts; the loop runs to completion once started.
func (v *Verifier) Wait(hash string) (*Transaction, error) {
	for i := 0; i < v.Attempts; i++ {
		if i > 0 {
			time.Sleep(v.Delay)
		}

		metrics.VerifierAttempt()
		tx, err := v.Source.GetTransaction(hash)
		if err != nil {
			log.Printf("[TON] lookup %d/%d for %s failed: %v", i+1, v.Attempts, hash, err)
			continue
		}
		if tx == nil || tx.Utime == 0 {
			log.Printf("[TON] tx %s not confirmed yet (attempt %d/%d)", hash, i+1, v.Attempts)
			continue
		}
		return tx, nil
	}
	metrics.VerifierExhausted()
	return nil, ErrNotConfirmed
}
