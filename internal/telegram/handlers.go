package telegram

import (
	"context"
	"fmt"
	"regexp"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shzored/mediabot/internal/pipeline"
	"github.com/shzored/mediabot/internal/platform"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

const (
	msgWelcome = "Hi! Send me a link to a video or post and I will fetch the media for you.\n" +
		"Supported platforms: YouTube, Instagram, TikTok, Pinterest, VK, Twitter.\n" +
		"You can also send me a video to convert it into a voice message."
	msgChecking   = "Processing your request..."
	msgNoLink     = "Error: send a link to a supported platform."
	msgBadLink    = "Error: this platform is not supported."
	msgUploadBusy = "Converting your video to a voice message..."
)

type orchestrator interface {
	HandleAction(ctx context.Context, action pipeline.UserAction)
	HandleUpload(ctx context.Context, chatID int64, userID int64, fileID string, statusMessageID int)
}

type requestQueue interface {
	Enqueue(req *pipeline.Request)
}

// Handlers routes incoming updates to the pipeline: commands, link
// messages, video uploads and keyboard presses.
type Handlers struct {
	transport    *Transport
	orchestrator orchestrator
	queue        requestQueue
}

func NewHandlers(transport *Transport, orchestrator orchestrator, queue requestQueue) *Handlers {
	return &Handlers{transport: transport, orchestrator: orchestrator, queue: queue}
}

// Register attaches the command and callback handlers to the bot. The
// default handler (links and uploads) must be given to the bot at
// construction time via bot.WithDefaultHandler(h.HandleDefault).
func (h *Handlers) Register(b *tgbot.Bot) {
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.handleStart)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/get_chat_id", tgbot.MatchTypeExact, h.handleGetChatID)
	b.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, "", tgbot.MatchTypePrefix, h.handleCallback)
}

func (h *Handlers) handleStart(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	h.transport.SendStatus(ctx, update.Message.Chat.ID, msgWelcome, pipeline.KeyboardNone)
}

func (h *Handlers) handleGetChatID(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	h.transport.SendStatus(ctx, chatID, fmt.Sprintf("Chat ID: %d", chatID), pipeline.KeyboardNone)
}

// HandleDefault receives every non-command message: link requests and
// video uploads.
func (h *Handlers) HandleDefault(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	message := update.Message
	if message == nil || message.From == nil {
		return
	}

	if message.Video != nil {
		h.handleUpload(ctx, message)
		return
	}
	if message.Text != "" {
		h.handleLink(ctx, message)
	}
}

// handleLink validates the message as a media request and enqueues it.
// Obvious rejects (no URL, unsupported platform) are answered here so
// they never occupy a worker.
func (h *Handlers) handleLink(ctx context.Context, message *models.Message) {
	chatID := message.Chat.ID

	url := urlPattern.FindString(message.Text)
	if url == "" {
		h.transport.SendStatus(ctx, chatID, msgNoLink, pipeline.KeyboardNone)
		return
	}

	if platform.Classify(url) == platform.Unsupported {
		h.transport.SendStatus(ctx, chatID, msgBadLink, pipeline.KeyboardNone)
		return
	}

	statusID, err := h.transport.SendStatus(ctx, chatID, msgChecking, pipeline.KeyboardNone)
	if err != nil {
		log.Errorf("Failed to open status message for chat %d: %v\n", chatID, err)
		return
	}

	h.queue.Enqueue(&pipeline.Request{
		ChatID:          chatID,
		UserID:          message.From.ID,
		URL:             url,
		StatusMessageID: statusID,
	})
}

func (h *Handlers) handleUpload(ctx context.Context, message *models.Message) {
	chatID := message.Chat.ID

	statusID, err := h.transport.SendStatus(ctx, chatID, msgUploadBusy, pipeline.KeyboardNone)
	if err != nil {
		log.Errorf("Failed to open status message for chat %d: %v\n", chatID, err)
		return
	}

	h.orchestrator.HandleUpload(ctx, chatID, message.From.ID, message.Video.FileID, statusID)
}

func (h *Handlers) handleCallback(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}

	// Acknowledged immediately so the client stops its spinner even if
	// processing takes a while.
	b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{CallbackQueryID: query.ID})

	action, err := parseAction(query)
	if err != nil {
		log.Warnf("Ignoring callback: %v\n", err)
		return
	}

	h.orchestrator.HandleAction(ctx, action)
}
