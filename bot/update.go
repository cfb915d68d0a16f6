package bot

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mnemosign/mnemosign/challenge"
)

const (
	confirmPrefix = "y:"
	rejectPrefix  = "n:"
)

const (
	actionConfirm = "confirm"
	actionReject  = "reject"
)

// codeMessage extracts a challenge code from a text message, trimming
// surrounding whitespace first. It reports false for anything that is not
// exactly a well-formed code.
func codeMessage(update tgbotapi.Update) (string, bool) {
	if update.Message == nil || update.Message.Text == "" {
		return "", false
	}
	text := strings.TrimSpace(update.Message.Text)
	if !challenge.IsValidCode(text) {
		return "", false
	}
	return text, true
}

// promptResponse extracts the action and bearer token from a button-press
// callback. The callback must still reference its originating message and
// chat, since the response is rendered by editing that message in place.
func promptResponse(update tgbotapi.Update) (action, token string, ok bool) {
	cq := update.CallbackQuery
	if cq == nil || cq.Message == nil || cq.Message.Chat == nil {
		return "", "", false
	}
	switch {
	case strings.HasPrefix(cq.Data, confirmPrefix):
		return actionConfirm, strings.TrimPrefix(cq.Data, confirmPrefix), true
	case strings.HasPrefix(cq.Data, rejectPrefix):
		return actionReject, strings.TrimPrefix(cq.Data, rejectPrefix), true
	}
	return "", "", false
}
