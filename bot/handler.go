package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mnemosign/mnemosign/challenge"
	"github.com/mnemosign/mnemosign/identity"
	"github.com/mnemosign/mnemosign/seal"
)

// API is the subset of the Telegram client the handler sends through.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// PhotoHoster re-hosts an approver's profile photo; see identity.PhotoHoster.
type PhotoHoster interface {
	HostPhoto(ctx context.Context, ref identity.Ref) (string, error)
}

// Handler processes classified webhook updates against the challenge store.
type Handler struct {
	api        API
	challenges *challenge.Store
	ids        *seal.IDValue
	photos     PhotoHoster
	log        *zap.Logger
}

// NewHandler builds a Handler. photos may be nil to disable photo
// re-hosting; log may be nil.
func NewHandler(api API, challenges *challenge.Store, ids *seal.IDValue, photos PhotoHoster, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		api:        api,
		challenges: challenges,
		ids:        ids,
		photos:     photos,
		log:        log,
	}
}

// HandleUpdate classifies and processes one webhook update, reporting
// whether the update was recognized. Outcomes and errors are rendered into
// the chat; nothing propagates to the transport.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) bool {
	if code, ok := codeMessage(update); ok {
		h.handleCode(ctx, update.Message.Chat.ID, code)
		return true
	}
	if action, token, ok := promptResponse(update); ok {
		h.handleResponse(ctx, update.CallbackQuery, action, token)
		return true
	}
	return false
}

func (h *Handler) handleCode(ctx context.Context, chatID int64, code string) {
	res, err := h.challenges.ReadCode(ctx, code)
	switch {
	case errors.Is(err, challenge.ErrNotFound):
		h.send(tgbotapi.NewMessage(chatID, notFoundText()))
		return
	case err != nil:
		h.log.Error("challenge lookup failed", zap.Error(err))
		h.send(tgbotapi.NewMessage(chatID, errorText()))
		return
	}

	msg := tgbotapi.NewMessage(chatID, promptText(res))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = promptKeyboard(res.Token)
	h.send(msg)
}

func (h *Handler) handleResponse(ctx context.Context, cq *tgbotapi.CallbackQuery, action, token string) {
	defer h.answer(cq.ID)

	chatID := cq.Message.Chat.ID
	messageID := cq.Message.MessageID

	var err error
	if action == actionConfirm {
		err = h.confirm(ctx, cq.From, token)
	} else {
		err = h.challenges.Cancel(ctx, token)
	}

	switch {
	case err == nil:
		text := confirmedText()
		if action == actionReject {
			text = rejectedText()
		}
		edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
		edit.ParseMode = tgbotapi.ModeMarkdown
		h.send(edit)
	case errors.Is(err, challenge.ErrNotFound),
		errors.Is(err, challenge.ErrConflict),
		errors.Is(err, seal.ErrInvalid),
		errors.Is(err, seal.ErrExpired):
		// Gone, already handled, or the token aged out. For the approver
		// these are all the same: this prompt is dead.
		edit := tgbotapi.NewEditMessageText(chatID, messageID, expiredText())
		edit.ParseMode = tgbotapi.ModeMarkdown
		h.send(edit)
	default:
		h.log.Error("prompt response failed", zap.Error(err))
		h.send(tgbotapi.NewMessage(chatID, errorText()))
	}
}

// confirm assembles the identity payload and runs the pass transition. The
// profile photo is best effort: a hosting failure is logged and the
// approval proceeds without an image.
func (h *Handler) confirm(ctx context.Context, from *tgbotapi.User, token string) error {
	ref := identity.NewRef(from.ID)

	user := &identity.User{
		ID:   ref.PublicID(h.ids),
		Name: displayName(from),
		Lang: language(from),
	}

	if h.photos != nil {
		image, err := h.photos.HostPhoto(ctx, ref)
		if err != nil {
			h.log.Warn("profile photo hosting failed", zap.Error(err))
		} else {
			user.Image = image
		}
	}

	_, err := h.challenges.Pass(ctx, token, user)
	return err
}

func displayName(from *tgbotapi.User) string {
	parts := make([]string, 0, 2)
	if from.FirstName != "" {
		parts = append(parts, from.FirstName)
	}
	if from.LastName != "" {
		parts = append(parts, from.LastName)
	}
	return strings.Join(parts, " ")
}

func language(from *tgbotapi.User) string {
	if from.LanguageCode == "" {
		return "en"
	}
	return from.LanguageCode
}

func (h *Handler) send(c tgbotapi.Chattable) {
	if _, err := h.api.Send(c); err != nil {
		h.log.Error("telegram send failed", zap.Error(err))
	}
}

// answer acknowledges the callback so the client stops its spinner, even
// when handling failed.
func (h *Handler) answer(callbackID string) {
	if _, err := h.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		h.log.Error("telegram callback answer failed", zap.Error(err))
	}
}
