// Package httpapi exposes the challenge lifecycle and the Telegram webhook
// over HTTP. Browsers create a challenge, render its code and word phrase,
// and poll the consume endpoint until the user has confirmed in Telegram;
// a successful consume is exchanged for a signed session token.
package httpapi
