package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/shzored/mediabot/internal/cache"
	"github.com/shzored/mediabot/internal/fetch"
	"github.com/shzored/mediabot/internal/media"
	"github.com/shzored/mediabot/internal/platform"
	"github.com/shzored/mediabot/internal/transcode"
	"github.com/shzored/mediabot/pkg/logger"
	internalSync "github.com/shzored/mediabot/pkg/sync"
)

var log = logger.Get("Pipeline")

const (
	msgDownloading     = "Downloading media..."
	msgConverting      = "Converting media..."
	msgChooseFormat    = "Choose a format:"
	msgChooseAudio     = "Choose how to receive the audio:"
	msgSubscribe       = "Subscribe to the channel to use the bot, then press the button below."
	msgSubscribed      = "Subscription confirmed, you can use the bot now. Send a link!"
	msgExpiredSession  = "Error: this request has expired, send the link again."
	msgUnsupported     = "Error: this platform is not supported."
	msgNoMedia         = "Error: no media found at that link."
	msgOversized       = "Error: the file is too large to deliver."
	msgFetchFailed     = "Error: download failed. The link may be private or expired."
	msgConvertFailed   = "Error: media conversion failed."
	msgInternal        = "Internal error, please try again later."
	msgPartialTemplate = "Delivered %d of %d items; %d failed."
)

type fetcher interface {
	Fetch(ctx context.Context, item media.Item, dest string) (int64, error)
}

type converter interface {
	ToAudio(ctx context.Context, src string, dest string) (int64, error)
	ToVoice(ctx context.Context, src string, dest string) (int64, error)
}

type dispatcher interface {
	Classify(rawURL string) platform.Platform
	Resolve(ctx context.Context, rawURL string, p platform.Platform) (platform.Resolution, error)
}

type cacheStore interface {
	Has(key cache.Key) (string, bool)
	Publish(scratch string, key cache.Key) (string, error)
	ScratchPath(kind media.Kind) string
	Discard(scratch string)
}

// Orchestrator drives a request through dispatch, retrieval,
// conversion, publication and delivery. It owns the interactive
// sessions (one per chat) and the URL fast-path index; everything
// below it is stateless with respect to requests.
type Orchestrator struct {
	transport  Transport
	fetcher    fetcher
	converter  converter
	dispatcher dispatcher
	cache      cacheStore

	sessions *internalSync.TypedSyncMap[int64, *conversionChain]
	index    *urlIndex
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(transport Transport, fetcher fetcher, converter converter, dispatcher dispatcher, store cacheStore) *Orchestrator {
	return &Orchestrator{
		transport:  transport,
		fetcher:    fetcher,
		converter:  converter,
		dispatcher: dispatcher,
		cache:      store,
		sessions:   &internalSync.TypedSyncMap[int64, *conversionChain]{},
		index:      newURLIndex(512),
	}
}

// Process handles one dequeued request end to end. Errors never escape;
// every failure ends with a status update for the requester.
func (orch *Orchestrator) Process(ctx context.Context, req *Request) {
	log.Emit(logger.INFO, "[%s] Request from chat %d: %s\n", Dispatching, req.ChatID, req.URL)

	member, err := orch.transport.IsChannelMember(ctx, req.UserID)
	if err != nil {
		log.Warnf("Membership check for user %d failed: %v\n", req.UserID, err)
	} else if !member {
		orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, msgSubscribe, KeyboardSubscribe)
		return
	}

	p := orch.dispatcher.Classify(req.URL)
	if p == platform.Unsupported {
		orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, msgUnsupported, KeyboardNone)
		return
	}

	resolution, err := orch.dispatcher.Resolve(ctx, req.URL, p)
	if err != nil {
		log.Errorf("[%s] Resolution of %s failed: %v\n", Failed, req.URL, err)
		orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, userMessage(err), KeyboardNone)
		return
	}

	if resolution.Interactive {
		orch.sessions.Store(req.ChatID, newConversionChain(req.ChatID, req.URL))
		orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, msgChooseFormat, KeyboardFormat)
		return
	}

	orch.processBatch(ctx, req, resolution)
}

// ReportFailure surfaces an internal failure (a worker panic) to the
// requester. Invoked by the queue, never by the orchestrator itself.
func (orch *Orchestrator) ReportFailure(ctx context.Context, req *Request, reason string) {
	log.Errorf("[%s] Request for %s aborted: %s\n", Failed, req.URL, reason)
	orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, msgInternal, KeyboardNone)
}

// processBatch fetches every resolved item and delivers whatever
// succeeded. One failing item never voids the rest; the closing status
// reports the shortfall instead.
func (orch *Orchestrator) processBatch(ctx context.Context, req *Request, resolution platform.Resolution) {
	orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, msgDownloading, KeyboardNone)

	deliveries := make([]Delivery, 0, len(resolution.Items))
	failed := 0
	for _, item := range resolution.Items {
		path, err := orch.fetchItem(ctx, req.ChatID, item)
		if err != nil {
			log.Errorf("[%s] Item %d of %s failed: %v\n", Failed, item.Index, req.URL, err)
			failed++
			continue
		}
		deliveries = append(deliveries, Delivery{Kind: item.Kind, Path: path})
	}

	if len(deliveries) == 0 {
		orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, msgFetchFailed, KeyboardNone)
		return
	}

	log.Emit(logger.INFO, "[%s] Sending %d item(s) to chat %d\n", Delivering, len(deliveries), req.ChatID)
	if err := orch.transport.SendMediaBatch(ctx, req.ChatID, deliveries); err != nil {
		log.Errorf("[%s] Batch delivery to chat %d failed: %v\n", Failed, req.ChatID, err)
		orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, msgInternal, KeyboardNone)
		return
	}

	if failed > 0 {
		text := fmt.Sprintf(msgPartialTemplate, len(deliveries), len(resolution.Items), failed)
		orch.updateStatus(ctx, req.ChatID, req.StatusMessageID, text, KeyboardNone)
	} else {
		orch.transport.DeleteStatus(ctx, req.ChatID, req.StatusMessageID)
	}

	log.Emit(logger.INFO, "[%s] Request for %s complete\n", Done, req.URL)
}

// HandleAction applies one keyboard press against the chat's active
// session. Runs on the transport's handler goroutine, not the queue.
func (orch *Orchestrator) HandleAction(ctx context.Context, action UserAction) {
	if action.Kind == ActionConfirmSubscription {
		orch.confirmSubscription(ctx, action)
		return
	}

	member, err := orch.transport.IsChannelMember(ctx, action.UserID)
	if err == nil && !member {
		orch.updateStatus(ctx, action.ChatID, action.MessageID, msgSubscribe, KeyboardSubscribe)
		return
	}

	chain, ok := orch.sessions.Load(action.ChatID)
	if !ok {
		orch.updateStatus(ctx, action.ChatID, action.MessageID, msgExpiredSession, KeyboardNone)
		return
	}

	chain.mu.Lock()
	defer chain.mu.Unlock()
	defer orch.cleanupChain(chain)

	switch action.Kind {
	case ActionSelectVideo:
		orch.updateStatus(ctx, action.ChatID, action.MessageID, msgDownloading, KeyboardNone)
		path, err := orch.ensureVideo(ctx, chain)
		orch.finishInteractive(ctx, action, media.Video, path, err)

	case ActionSelectAudio:
		orch.updateStatus(ctx, action.ChatID, action.MessageID, msgChooseAudio, KeyboardAudioFormat)

	case ActionAudioAsFile:
		orch.updateStatus(ctx, action.ChatID, action.MessageID, msgConverting, KeyboardNone)
		path, err := orch.ensureAudio(ctx, chain)
		orch.finishInteractive(ctx, action, media.Audio, path, err)

	case ActionAudioAsVoice:
		orch.updateStatus(ctx, action.ChatID, action.MessageID, msgConverting, KeyboardNone)
		path, err := orch.ensureVoice(ctx, chain)
		orch.finishInteractive(ctx, action, media.Voice, path, err)
	}
}

func (orch *Orchestrator) confirmSubscription(ctx context.Context, action UserAction) {
	member, err := orch.transport.IsChannelMember(ctx, action.UserID)
	if err != nil || !member {
		orch.updateStatus(ctx, action.ChatID, action.MessageID, msgSubscribe, KeyboardSubscribe)
		return
	}

	orch.updateStatus(ctx, action.ChatID, action.MessageID, msgSubscribed, KeyboardNone)
}

func (orch *Orchestrator) finishInteractive(ctx context.Context, action UserAction, kind media.Kind, path string, err error) {
	if err != nil {
		log.Errorf("[%s] Interactive %s request failed: %v\n", Failed, kind, err)
		orch.updateStatus(ctx, action.ChatID, action.MessageID, userMessage(err), KeyboardNone)
		return
	}

	if err := orch.deliver(ctx, action.ChatID, action.MessageID, kind, path); err != nil {
		log.Errorf("[%s] Delivery of %s to chat %d failed: %v\n", Failed, path, action.ChatID, err)
		orch.updateStatus(ctx, action.ChatID, action.MessageID, msgInternal, KeyboardNone)
		return
	}

	log.Emit(logger.INFO, "[%s] Delivered %s %s to chat %d\n", Done, kind, path, action.ChatID)
}

// HandleUpload converts an uploaded video into a voice message. Upload
// conversions are one-shot: nothing is cached and every intermediate
// file is removed when done.
func (orch *Orchestrator) HandleUpload(ctx context.Context, chatID int64, userID int64, fileID string, statusMessageID int) {
	member, err := orch.transport.IsChannelMember(ctx, userID)
	if err == nil && !member {
		orch.updateStatus(ctx, chatID, statusMessageID, msgSubscribe, KeyboardSubscribe)
		return
	}

	videoScratch := orch.cache.ScratchPath(media.Video)
	voiceScratch := orch.cache.ScratchPath(media.Voice)
	defer orch.cache.Discard(videoScratch)
	defer orch.cache.Discard(voiceScratch)

	if err := orch.transport.DownloadUpload(ctx, fileID, videoScratch); err != nil {
		log.Errorf("[%s] Upload download for chat %d failed: %v\n", Failed, chatID, err)
		orch.updateStatus(ctx, chatID, statusMessageID, msgFetchFailed, KeyboardNone)
		return
	}

	if _, err := orch.converter.ToVoice(ctx, videoScratch, voiceScratch); err != nil {
		log.Errorf("[%s] Upload conversion for chat %d failed: %v\n", Failed, chatID, err)
		orch.updateStatus(ctx, chatID, statusMessageID, userMessage(err), KeyboardNone)
		return
	}

	if err := orch.deliver(ctx, chatID, statusMessageID, media.Voice, voiceScratch); err != nil {
		log.Errorf("[%s] Upload delivery to chat %d failed: %v\n", Failed, chatID, err)
		orch.updateStatus(ctx, chatID, statusMessageID, msgInternal, KeyboardNone)
	}
}

// fetchItem materialises one resolved item, going through the URL
// index, then the cache, then a fresh download published atomically.
func (orch *Orchestrator) fetchItem(ctx context.Context, chatID int64, item media.Item) (string, error) {
	source := item.SourceURL()
	key := cache.Key{ChatID: chatID, Kind: item.Kind, Source: source, Index: item.Index}

	if path, ok := orch.index.lookup(source); ok && item.Index == 0 {
		return path, nil
	}
	if path, ok := orch.cache.Has(key); ok {
		return path, nil
	}

	log.Emit(logger.INFO, "[%s] Downloading %s item %d for chat %d\n", Fetching, item.Kind, item.Index, chatID)
	scratch := orch.cache.ScratchPath(item.Kind)
	if _, err := orch.fetcher.Fetch(ctx, item, scratch); err != nil {
		orch.cache.Discard(scratch)
		return "", err
	}

	log.Debugf("[%s] Publishing %s\n", Publishing, key.Filename())
	path, err := orch.cache.Publish(scratch, key)
	if err != nil {
		orch.cache.Discard(scratch)
		return "", err
	}

	if item.Index == 0 {
		orch.index.store(source, path)
	}
	return path, nil
}

// ensureVideo returns the published video for the chain, fetching it
// only if no earlier request already cached it.
func (orch *Orchestrator) ensureVideo(ctx context.Context, chain *conversionChain) (string, error) {
	if path, ok := orch.index.lookup(chain.source); ok {
		return path, nil
	}
	if path, ok := orch.cache.Has(chain.key(media.Video)); ok {
		return path, nil
	}

	log.Emit(logger.INFO, "[%s] Downloading video for %s\n", Fetching, chain.source)
	scratch := orch.cache.ScratchPath(media.Video)
	chain.track(scratch)
	if _, err := orch.fetcher.Fetch(ctx, media.Item{Kind: media.Video, URLs: []string{chain.source}, Source: chain.source, Deferred: true}, scratch); err != nil {
		return "", err
	}

	path, err := orch.cache.Publish(scratch, chain.key(media.Video))
	if err != nil {
		return "", err
	}

	orch.index.store(chain.source, path)
	return path, nil
}

// ensureAudio returns the published audio for the chain, resuming from
// the cached video when possible.
func (orch *Orchestrator) ensureAudio(ctx context.Context, chain *conversionChain) (string, error) {
	if path, ok := orch.cache.Has(chain.key(media.Audio)); ok {
		return path, nil
	}

	videoPath, err := orch.ensureVideo(ctx, chain)
	if err != nil {
		return "", err
	}

	log.Emit(logger.INFO, "[%s] Extracting audio for %s\n", Converting, chain.source)
	scratch := orch.cache.ScratchPath(media.Audio)
	chain.track(scratch)
	if _, err := orch.converter.ToAudio(ctx, videoPath, scratch); err != nil {
		return "", err
	}

	return orch.cache.Publish(scratch, chain.key(media.Audio))
}

// ensureVoice returns the published voice file for the chain, resuming
// from cached audio, which in turn resumes from cached video.
func (orch *Orchestrator) ensureVoice(ctx context.Context, chain *conversionChain) (string, error) {
	if path, ok := orch.cache.Has(chain.key(media.Voice)); ok {
		return path, nil
	}

	audioPath, err := orch.ensureAudio(ctx, chain)
	if err != nil {
		return "", err
	}

	log.Emit(logger.INFO, "[%s] Converting voice for %s\n", Converting, chain.source)
	scratch := orch.cache.ScratchPath(media.Voice)
	chain.track(scratch)
	if _, err := orch.converter.ToVoice(ctx, audioPath, scratch); err != nil {
		return "", err
	}

	return orch.cache.Publish(scratch, chain.key(media.Voice))
}

// deliver sends one file and removes the status message on success. A
// timed-out acknowledgement is reconciled against the transport's
// delivery record before being treated as a failure.
func (orch *Orchestrator) deliver(ctx context.Context, chatID int64, statusMessageID int, kind media.Kind, path string) error {
	log.Emit(logger.INFO, "[%s] Sending %s %s to chat %d\n", Delivering, kind, path, chatID)

	err := orch.transport.SendMedia(ctx, chatID, kind, path)
	if err != nil && orch.transport.IsTimeout(err) && orch.transport.WasDelivered(chatID, path) {
		log.Warnf("Send of %s timed out but delivery was confirmed, treating as success\n", path)
		err = nil
	}
	if err != nil {
		return err
	}

	orch.transport.DeleteStatus(ctx, chatID, statusMessageID)
	return nil
}

// cleanupChain discards any scratch files the chain produced. Published
// stages were renamed into the cache, so only abandoned intermediates
// remain.
func (orch *Orchestrator) cleanupChain(chain *conversionChain) {
	for _, scratch := range chain.scratch {
		if _, err := os.Stat(scratch); err == nil {
			orch.cache.Discard(scratch)
		}
	}
	chain.scratch = chain.scratch[:0]
}

func (orch *Orchestrator) updateStatus(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) {
	if messageID == 0 {
		if _, err := orch.transport.SendStatus(ctx, chatID, text, keyboard); err != nil {
			log.Warnf("Failed to send status to chat %d: %v\n", chatID, err)
		}
		return
	}

	if err := orch.transport.EditStatus(ctx, chatID, messageID, text, keyboard); err != nil {
		log.Warnf("Failed to update status %d in chat %d: %v\n", messageID, chatID, err)
	}
}

// userMessage translates a pipeline error into the status text shown to
// the requester.
func userMessage(err error) string {
	switch {
	case errors.Is(err, platform.ErrUnsupported):
		return msgUnsupported
	case errors.Is(err, platform.ErrNoMedia), errors.Is(err, fetch.ErrNoStreams):
		return msgNoMedia
	case errors.Is(err, media.ErrOversized):
		return msgOversized
	case errors.Is(err, fetch.ErrFetchFailed):
		return msgFetchFailed
	}

	var transcodeErr *transcode.Error
	if errors.As(err, &transcodeErr) {
		return msgConvertFailed
	}

	return msgInternal
}
