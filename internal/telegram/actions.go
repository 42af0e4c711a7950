package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
	"github.com/shzored/mediabot/internal/pipeline"
)

const (
	callbackSelectVideo = "select_video"
	callbackSelectAudio = "select_audio"
	callbackAudioFile   = "audio_file"
	callbackAudioVoice  = "audio_voice"
	callbackCheckSub    = "check_sub"
)

// parseAction converts a raw callback query into the typed action the
// pipeline consumes. The chat and message identity come from the query
// itself, never from the payload.
func parseAction(query *models.CallbackQuery) (pipeline.UserAction, error) {
	message := query.Message.Message
	if message == nil {
		return pipeline.UserAction{}, fmt.Errorf("callback %s carries no accessible message", query.ID)
	}

	action := pipeline.UserAction{
		ChatID:    message.Chat.ID,
		UserID:    query.From.ID,
		MessageID: message.ID,
	}

	switch query.Data {
	case callbackSelectVideo:
		action.Kind = pipeline.ActionSelectVideo
	case callbackSelectAudio:
		action.Kind = pipeline.ActionSelectAudio
	case callbackAudioFile:
		action.Kind = pipeline.ActionAudioAsFile
	case callbackAudioVoice:
		action.Kind = pipeline.ActionAudioAsVoice
	case callbackCheckSub:
		action.Kind = pipeline.ActionConfirmSubscription
	default:
		return pipeline.UserAction{}, fmt.Errorf("unknown callback payload %q", query.Data)
	}

	return action, nil
}
