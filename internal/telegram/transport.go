package telegram

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/pkg/errors"
	"github.com/shzored/mediabot/internal/media"
	"github.com/shzored/mediabot/internal/pipeline"
	"github.com/shzored/mediabot/pkg/logger"
)

var log = logger.Get("Telegram")

// deliveryRecordWindow bounds how long a confirmed delivery is
// remembered for timeout reconciliation.
const deliveryRecordWindow = 2 * time.Minute

// ackTimeout is how long SendMedia waits for the API acknowledgement
// before reporting a timeout; the upload itself keeps running up to
// sendTimeout and settles the delivery ledger with its real outcome.
const (
	ackTimeout  = 90 * time.Second
	sendTimeout = 5 * time.Minute
)

const batchSize = 10

// errSendTimeout marks a send whose acknowledgement did not arrive in
// time. The send may still have succeeded; the ledger knows.
var errSendTimeout = errors.New("media send timed out awaiting acknowledgement")

// Transport implements the pipeline's messaging boundary on top of the
// Telegram bot API. Every media send is tracked in the delivery ledger
// so a send whose acknowledgement timed out can be reconciled against
// its eventual outcome instead of being retried into a duplicate.
type Transport struct {
	bot       *tgbot.Bot
	channelID string
	http      *http.Client

	ledger *deliveryLedger
	ack    time.Duration
}

// NewTransport wraps an established bot connection. channelID is the
// channel whose membership gates bot usage; empty disables gating.
func NewTransport(bot *tgbot.Bot, channelID string) *Transport {
	return &Transport{
		bot:       bot,
		channelID: channelID,
		http:      &http.Client{Timeout: 5 * time.Minute},
		ledger:    newDeliveryLedger(deliveryRecordWindow),
		ack:       ackTimeout,
	}
}

// SendStatus posts a new status message and returns its message ID.
func (transport *Transport) SendStatus(ctx context.Context, chatID int64, text string, keyboard pipeline.Keyboard) (int, error) {
	message, err := transport.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: transport.markup(keyboard),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to send status to chat %d", chatID)
	}

	return message.ID, nil
}

// EditStatus rewrites an existing status message. An edit that changes
// nothing is reported as success, repeated identical updates are
// expected during processing.
func (transport *Transport) EditStatus(ctx context.Context, chatID int64, messageID int, text string, keyboard pipeline.Keyboard) error {
	_, err := transport.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: transport.markup(keyboard),
	})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to edit status %d in chat %d", messageID, chatID)
	}

	return nil
}

// DeleteStatus removes a status message. Deletion failures are logged
// and swallowed, a leftover status message is cosmetic.
func (transport *Transport) DeleteStatus(ctx context.Context, chatID int64, messageID int) error {
	if _, err := transport.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	}); err != nil {
		log.Warnf("Failed to delete status %d in chat %d: %v\n", messageID, chatID, err)
	}

	return nil
}

// SendMedia uploads one file to the chat using the send method matching
// its kind. The upload runs detached from the caller's wait: if the
// acknowledgement does not arrive within the ack window a timeout is
// reported, but the attempt keeps running and settles the delivery
// ledger with its real outcome, which WasDelivered consults.
func (transport *Transport) SendMedia(ctx context.Context, chatID int64, kind media.Kind, path string) error {
	key := deliveryKey(chatID, path)
	transport.ledger.begin(key)

	result := make(chan error, 1)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()

		err := transport.doSend(sendCtx, chatID, kind, path)
		transport.ledger.settle(key, err == nil)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			return errors.Wrapf(err, "failed to send %s %s to chat %d", kind, path, chatID)
		}
		return nil
	case <-time.After(transport.ack):
		return errors.Wrapf(errSendTimeout, "%s %s to chat %d", kind, path, chatID)
	}
}

func (transport *Transport) doSend(ctx context.Context, chatID int64, kind media.Kind, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s for upload", path)
	}
	defer file.Close()

	upload := &models.InputFileUpload{Filename: filepath.Base(path), Data: file}
	switch kind {
	case media.Video:
		_, err = transport.bot.SendVideo(ctx, &tgbot.SendVideoParams{ChatID: chatID, Video: upload})
	case media.Photo:
		_, err = transport.bot.SendPhoto(ctx, &tgbot.SendPhotoParams{ChatID: chatID, Photo: upload})
	case media.Audio:
		_, err = transport.bot.SendAudio(ctx, &tgbot.SendAudioParams{ChatID: chatID, Audio: upload})
	case media.Voice:
		_, err = transport.bot.SendVoice(ctx, &tgbot.SendVoiceParams{ChatID: chatID, Voice: upload})
	default:
		return fmt.Errorf("cannot send media of kind %s", kind)
	}

	return err
}

// SendMediaBatch delivers the files as media groups of up to ten
// entries. Kinds that cannot appear in a group are sent individually.
func (transport *Transport) SendMediaBatch(ctx context.Context, chatID int64, items []pipeline.Delivery) error {
	groupable := make([]pipeline.Delivery, 0, len(items))
	for _, item := range items {
		if item.Kind == media.Photo || item.Kind == media.Video {
			groupable = append(groupable, item)
			continue
		}
		if err := transport.SendMedia(ctx, chatID, item.Kind, item.Path); err != nil {
			return err
		}
	}

	for start := 0; start < len(groupable); start += batchSize {
		end := start + batchSize
		if end > len(groupable) {
			end = len(groupable)
		}

		if err := transport.sendGroup(ctx, chatID, groupable[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (transport *Transport) sendGroup(ctx context.Context, chatID int64, items []pipeline.Delivery) error {
	if len(items) == 1 {
		return transport.SendMedia(ctx, chatID, items[0].Kind, items[0].Path)
	}

	files := make([]*os.File, 0, len(items))
	defer func() {
		for _, file := range files {
			file.Close()
		}
	}()

	group := make([]models.InputMedia, 0, len(items))
	for i, item := range items {
		file, err := os.Open(item.Path)
		if err != nil {
			return errors.Wrapf(err, "cannot open %s for upload", item.Path)
		}
		files = append(files, file)

		attachName := fmt.Sprintf("file%d", i)
		switch item.Kind {
		case media.Photo:
			group = append(group, &models.InputMediaPhoto{
				Media:           "attach://" + attachName,
				MediaAttachment: file,
			})
		case media.Video:
			group = append(group, &models.InputMediaVideo{
				Media:           "attach://" + attachName,
				MediaAttachment: file,
			})
		}
	}

	if _, err := transport.bot.SendMediaGroup(ctx, &tgbot.SendMediaGroupParams{
		ChatID: chatID,
		Media:  group,
	}); err != nil {
		return errors.Wrapf(err, "failed to send media group to chat %d", chatID)
	}

	for _, item := range items {
		transport.ledger.confirm(deliveryKey(chatID, item.Path))
	}
	return nil
}

// WasDelivered reports whether the file was confirmed delivered to the
// chat, waiting out any still-running send attempt for it first.
func (transport *Transport) WasDelivered(chatID int64, path string) bool {
	return transport.ledger.wasDelivered(deliveryKey(chatID, path), sendTimeout)
}

// IsTimeout reports whether the error is a transport-level timeout, the
// case where the request may have succeeded without an acknowledgement.
func (transport *Transport) IsTimeout(err error) bool {
	if errors.Is(err, errSendTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return err != nil && strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// IsChannelMember reports whether the user belongs to the gating
// channel. With no channel configured everyone passes.
func (transport *Transport) IsChannelMember(ctx context.Context, userID int64) (bool, error) {
	if transport.channelID == "" {
		return true, nil
	}

	member, err := transport.bot.GetChatMember(ctx, &tgbot.GetChatMemberParams{
		ChatID: transport.channelID,
		UserID: userID,
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to check membership of user %d", userID)
	}

	switch member.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator, models.ChatMemberTypeMember:
		return true, nil
	case models.ChatMemberTypeRestricted:
		return member.Restricted != nil && member.Restricted.IsMember, nil
	}

	return false, nil
}

// DownloadUpload streams a file uploaded to the bot down to dest.
func (transport *Transport) DownloadUpload(ctx context.Context, fileID string, dest string) error {
	file, err := transport.bot.GetFile(ctx, &tgbot.GetFileParams{FileID: fileID})
	if err != nil {
		return errors.Wrapf(err, "failed to resolve uploaded file %s", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, transport.bot.FileDownloadLink(file), nil)
	if err != nil {
		return err
	}

	resp, err := transport.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to download uploaded file %s", fileID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %s downloading uploaded file %s", resp.Status, fileID)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return errors.Wrapf(err, "failed to store uploaded file %s", fileID)
	}

	return nil
}

func deliveryKey(chatID int64, path string) string {
	return fmt.Sprintf("%d:%s", chatID, filepath.Base(path))
}

func (transport *Transport) markup(keyboard pipeline.Keyboard) models.ReplyMarkup {
	switch keyboard {
	case pipeline.KeyboardFormat:
		return &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: "Video", CallbackData: callbackSelectVideo},
				{Text: "Audio", CallbackData: callbackSelectAudio},
			}},
		}
	case pipeline.KeyboardAudioFormat:
		return &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: "File", CallbackData: callbackAudioFile},
				{Text: "Voice", CallbackData: callbackAudioVoice},
			}},
		}
	case pipeline.KeyboardSubscribe:
		return &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: "I subscribed", CallbackData: callbackCheckSub},
			}},
		}
	}

	return nil
}
