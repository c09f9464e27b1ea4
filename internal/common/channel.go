package common

import (
	"time"
)

// Channel is a publisher's listed channel. ManagerIds is the delegate
// roster; it mirrors the live admin set on the messaging platform and gets
// trimmed whenever revalidation reports a demotion.
type Channel struct {
	ChatId   int64  `json:"chatId"`
	OwnerId  int64  `json:"ownerId"`
	Title    string `json:"title"`
	Link     string `json:"link,omitempty"`
	Username string `json:"username,omitempty"`
	Photo    string `json:"photo,omitempty"`

	PayoutAddress string `json:"payoutAddress,omitempty"`

	ManagerIds []int64 `json:"managerIds,omitempty"`

	// Per-day listing rates keyed by ad type
	Prices map[string]float64 `json:"prices,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

func (ch *Channel) Snapshot() ChannelSnapshot {
	return ChannelSnapshot{
		ChatId:        ch.ChatId,
		Title:         ch.Title,
		Link:          ch.Link,
		Username:      ch.Username,
		Photo:         ch.Photo,
		PayoutAddress: ch.PayoutAddress,
	}
}

func (ch *Channel) Touch() {
	ch.UpdatedAt = time.Now().Unix()
}
