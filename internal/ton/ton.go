// Package ton talks to an external TON ledger indexer and carries the
// little pieces of chain math the engine needs: nanoton conversion, address
// normalization and deriving a transaction hash from a signed BOC.
package ton

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Transfer is one outgoing message of a transaction.
type Transfer struct {
	Amount      int64  `json:"amount"` // nanotons
	Destination string `json:"destination"`
	Source      string `json:"source,omitempty"`
}

// Transaction is the indexer's view of a confirmed (or aborted) transaction.
type Transaction struct {
	Hash    string     `json:"hash"`
	Aborted bool       `json:"aborted"`
	Utime   int64      `json:"utime"` // zero until confirmed
	OutMsgs []Transfer `json:"outMsgs,omitempty"`
	Comment string     `json:"comment,omitempty"` // inbound message comment, if any
}

// Client queries the indexer over plain HTTP.
type Client struct {
	Endpoint string
	APIKey   string

	HTTPClient *http.Client
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetTransaction resolves a hash to its details. A transaction the indexer
// has not seen yet comes back as (nil, nil); errors mean the indexer itself
// was unreachable or unhappy.
func (c *Client) GetTransaction(hash string) (*Transaction, error) {
	req, err := http.NewRequest("GET", c.Endpoint+"/v2/blockchain/transactions/"+hash, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("indexer returned %d for tx %s", resp.StatusCode, hash)
	}

	var raw struct {
		Hash    string `json:"hash"`
		Aborted bool   `json:"aborted"`
		Utime   int64  `json:"utime"`
		OutMsgs []struct {
			Value       int64  `json:"value"`
			Destination string `json:"destination"`
			Source      string `json:"source"`
		} `json:"out_msgs"`
		InMsg struct {
			DecodedBody struct {
				Comment string `json:"text"`
			} `json:"decoded_body"`
		} `json:"in_msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	tx := &Transaction{
		Hash:    raw.Hash,
		Aborted: raw.Aborted,
		Utime:   raw.Utime,
		Comment: raw.InMsg.DecodedBody.Comment,
	}
	for _, m := range raw.OutMsgs {
		tx.OutMsgs = append(tx.OutMsgs, Transfer{
			Amount:      m.Value,
			Destination: m.Destination,
			Source:      m.Source,
		})
	}
	return tx, nil
}

// ToNano converts a TON amount to nanotons.
func ToNano(v float64) int64 {
	return int64(math.Round(v * 1e9))
}

func FromNano(v int64) float64 {
	return float64(v) / 1e9
}

// NormalizeAddress reduces any accepted form (friendly base64 or raw
// workchain:hex) to the raw form so recipients compare reliably.
func NormalizeAddress(s string) (string, error) {
	addr, err := address.ParseAddr(s)
	if err != nil {
		if addr, err = address.ParseRawAddr(strings.TrimSpace(s)); err != nil {
			return "", fmt.Errorf("unparseable address %q: %w", s, err)
		}
	}
	return fmt.Sprintf("%d:%x", addr.Workchain(), addr.Data()), nil
}

// HashSignedTx derives the transaction hash from a base64 signed-message
// container. Pure function, no network; the result doubles as the
// idempotency key for payment confirmation.
func HashSignedTx(signedBoc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(signedBoc)
	if err != nil {
		return "", fmt.Errorf("signed transaction is not valid base64: %w", err)
	}
	c, err := cell.FromBOC(raw)
	if err != nil {
		return "", fmt.Errorf("signed transaction is not a valid BOC: %w", err)
	}
	return fmt.Sprintf("%x", c.Hash()), nil
}

// DealMemo encodes the deal marker embedded in the payment comment.
func DealMemo(dealId string) string {
	return "deal:" + dealId
}

// MemoMatches tolerates an absent comment but not a wrong one. The marker
// must end at a non-digit so deal:1 never validates a deal:12 comment.
func MemoMatches(comment, dealId string) bool {
	if comment == "" {
		return true
	}
	memo := DealMemo(dealId)
	for idx := strings.Index(comment, memo); idx >= 0; {
		end := idx + len(memo)
		if end == len(comment) || comment[end] < '0' || comment[end] > '9' {
			return true
		}
		off := strings.Index(comment[idx+1:], memo)
		if off < 0 {
			break
		}
		idx += 1 + off
	}
	return false
}
