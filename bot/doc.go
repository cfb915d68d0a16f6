// Package bot turns Telegram webhook updates into challenge operations.
//
// Two update shapes matter: a plain text message that is exactly a
// challenge code, and a button press whose callback data carries a bearer
// token behind a confirm or reject prefix. Everything else is ignored and
// reported as unhandled so the webhook can acknowledge it without action.
//
// The handler renders every outcome back into the chat and never returns
// errors to the transport; Telegram retries failed webhooks, and a retried
// pass or cancel would only see a confusing conflict.
package bot
