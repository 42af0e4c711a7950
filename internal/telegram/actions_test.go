package telegram

import (
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/shzored/mediabot/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callbackQuery(data string) *models.CallbackQuery {
	return &models.CallbackQuery{
		ID:   "query-1",
		From: models.User{ID: 55},
		Data: data,
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{
				ID:   77,
				Chat: models.Chat{ID: 99},
			},
		},
	}
}

func TestParseActionMapsCallbackPayloads(t *testing.T) {
	tests := []struct {
		data     string
		expected pipeline.ActionKind
	}{
		{callbackSelectVideo, pipeline.ActionSelectVideo},
		{callbackSelectAudio, pipeline.ActionSelectAudio},
		{callbackAudioFile, pipeline.ActionAudioAsFile},
		{callbackAudioVoice, pipeline.ActionAudioAsVoice},
		{callbackCheckSub, pipeline.ActionConfirmSubscription},
	}

	for _, test := range tests {
		action, err := parseAction(callbackQuery(test.data))
		require.NoError(t, err, "payload %s", test.data)

		assert.Equal(t, test.expected, action.Kind)
		assert.Equal(t, int64(99), action.ChatID)
		assert.Equal(t, int64(55), action.UserID)
		assert.Equal(t, 77, action.MessageID)
	}
}

func TestParseActionRejectsUnknownPayload(t *testing.T) {
	_, err := parseAction(callbackQuery("launch_missiles"))
	require.Error(t, err)
}

func TestParseActionRejectsInaccessibleMessage(t *testing.T) {
	query := callbackQuery(callbackSelectVideo)
	query.Message = models.MaybeInaccessibleMessage{}

	_, err := parseAction(query)
	require.Error(t, err)
}

func TestURLPatternExtraction(t *testing.T) {
	assert.Equal(t, "https://youtu.be/abc", urlPattern.FindString("check this out https://youtu.be/abc !"))
	assert.Equal(t, "http://vk.com/video1", urlPattern.FindString("http://vk.com/video1"))
	assert.Empty(t, urlPattern.FindString("no link here"))
}

func TestDeliveryKeyUsesBaseName(t *testing.T) {
	assert.Equal(t, deliveryKey(5, "/cache/videos/a.mp4"), deliveryKey(5, "/elsewhere/a.mp4"))
	assert.NotEqual(t, deliveryKey(5, "/cache/videos/a.mp4"), deliveryKey(6, "/cache/videos/a.mp4"))
}
