package common

// Ledger record directions
const (
	LedgerSent     = "sent"
	LedgerReceived = "received"
)

// LedgerRecord is one row of a user's transaction history. Keyed by TxHash
// system-wide, written once per confirmed on-chain transfer, never mutated.
// The uniqueness of TxHash is what guarantees a given transfer settles at
// most one deal.
type LedgerRecord struct {
	TxHash    string `json:"txHash"`
	UserId    int64  `json:"userId"`
	Direction string `json:"direction"`
	Amount    int64  `json:"amount"` // nanotons
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Label     string `json:"label,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}
