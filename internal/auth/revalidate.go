// Package auth revalidates delegated publisher-side authority against the
// live admin roster of a messaging-platform channel. Admin status is
// revocable at any time outside this system, so it is checked on every
// manager action, never cached.
package auth

import (
	"log"

	"github.com/telads/telads/misc"
)

// Chat member statuses as reported by the platform.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
)

// ChatMemberSource is the live authorization source, normally backed by the
// Telegram Bot API's getChatMember.
type ChatMemberSource interface {
	ChatMemberStatus(chatId, userId int64) (string, error)
}

type Result struct {
	IsAdmin    bool
	ManagerIds []int64 // input list minus the user when demoted
}

// Revalidate confirms the user still holds admin rights on the channel. If
// the platform is unreachable the user is treated as still admin so a
// transient outage never blocks legitimate managers; revoking access a
// little late is the accepted cost.
func Revalidate(src ChatMemberSource, chatId, userId int64, managerIds []int64) Result {
	status, err := src.ChatMemberStatus(chatId, userId)
	if err != nil {
		log.Printf("[AUTH] chat member lookup failed for user %d on chat %d, failing open: %v", userId, chatId, err)
		return Result{IsAdmin: true, ManagerIds: managerIds}
	}

	if status == StatusCreator || status == StatusAdministrator {
		return Result{IsAdmin: true, ManagerIds: managerIds}
	}

	log.Printf("[AUTH] user %d demoted on chat %d (status %q), dropping from manager roster", userId, chatId, status)
	return Result{IsAdmin: false, ManagerIds: misc.Remove(managerIds, userId)}
}
