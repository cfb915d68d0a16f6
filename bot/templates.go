package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mnemosign/mnemosign/challenge"
)

func notFoundText() string {
	return "*Invalid authentication code.* Looks like you've sent an authentication code, but it doesn't seem to be valid.\n\n" +
		"There might be a typo in the code, or the code could have already expired."
}

func promptText(res *challenge.ReadResult) string {
	hints := res.ClientHints
	if hints == "" {
		hints = "a new device"
	}
	return fmt.Sprintf(
		"*You're about to sign in.* Once confirmed, you'll be signed in on _%s_.\n\n"+
			"Only confirm if this is your device, and the magic phrase matches what you see on screen:\n\n"+
			"`%s`",
		hints, res.Mnemonic)
}

func promptKeyboard(token string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Sign In", confirmPrefix+token),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", rejectPrefix+token),
		),
	)
}

func expiredText() string {
	return "*Authentication attempt has expired.* If you still want to sign in, start over with a new authentication code."
}

func confirmedText() string {
	return "*You have signed in.*"
}

func rejectedText() string {
	return "*Authentication attempt cancelled.*"
}

func errorText() string {
	return "*Something went wrong on our side.* You can try again."
}
