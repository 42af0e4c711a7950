package internal

import (
	"context"
	"fmt"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shzored/mediabot/internal/cache"
	"github.com/shzored/mediabot/internal/fetch"
	"github.com/shzored/mediabot/internal/pipeline"
	"github.com/shzored/mediabot/internal/platform"
	"github.com/shzored/mediabot/internal/queue"
	"github.com/shzored/mediabot/internal/telegram"
	"github.com/shzored/mediabot/internal/transcode"
	"github.com/shzored/mediabot/pkg/logger"
)

var log = logger.Get("App")

// RunnableService is a long-lived component driven by the app: Run
// blocks until the context is cancelled.
type RunnableService interface {
	Run(ctx context.Context) error
}

type runnableFunc func(ctx context.Context) error

func (fn runnableFunc) Run(ctx context.Context) error { return fn(ctx) }

// App owns the construction and lifecycle of every component: cache,
// retrieval, transcoding, dispatch, queue and the bot transport.
type App struct {
	config   Config
	bot      *tgbot.Bot
	queue    *queue.Service
	handlers *telegram.Handlers
	services []RunnableService

	serviceWg sync.WaitGroup
}

// New builds the full component graph from configuration. Nothing
// starts running until Run is called.
func New(config Config) (*App, error) {
	store, err := cache.NewStore(config.CacheDir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cache: %w", err)
	}

	limits := config.Limits.Limits()
	extractor := fetch.NewExtractor(config.Fetch.YtdlpPath, config.Fetch.CookiesDir)
	transcoder := transcode.New(transcode.Config{
		FfmpegPath:   config.Transcode.FfmpegPath,
		FfprobePath:  config.Transcode.FfprobePath,
		AudioBitrate: config.Transcode.AudioBitrate,
		VoiceBitrate: config.Transcode.VoiceBitrate,
	}, limits)

	client := fetch.NewClient(fetch.Config{
		UserAgent: config.Fetch.UserAgent,
		Retry:     fetch.RetryPolicy{MaxAttempts: config.Fetch.MaxAttempts, Backoff: config.fetchBackoff()},
		Limits:    limits,
	}, extractor, transcoder)

	dispatcher := platform.NewDispatcher(platform.Config{
		GalleryDLPath: config.Fetch.GalleryDLPath,
		CookiesDir:    config.Fetch.CookiesDir,
	}, extractor)

	app := &App{config: config}

	bot, err := tgbot.New(config.Telegram.Token, tgbot.WithDefaultHandler(app.defaultHandler))
	if err != nil {
		return nil, fmt.Errorf("failed to connect bot: %w", err)
	}
	app.bot = bot

	transport := telegram.NewTransport(bot, config.Telegram.ChannelID)
	orchestrator := pipeline.NewOrchestrator(transport, client, transcoder, dispatcher, store)
	requestQueue := queue.New(queue.Config{
		Workers:       config.Queue.Workers,
		ShutdownGrace: config.shutdownGrace(),
	}, orchestrator)

	handlers := telegram.NewHandlers(transport, orchestrator, requestQueue)
	handlers.Register(bot)
	app.handlers = handlers

	app.queue = requestQueue
	app.services = []RunnableService{
		requestQueue,
		runnableFunc(func(ctx context.Context) error {
			return store.Run(ctx, cache.SweepConfig{
				Lifetime: config.cacheLifetime(),
				MaxBytes: config.Cache.MaxSizeBytes,
				Interval: config.sweepInterval(),
			})
		}),
	}

	return app, nil
}

// Run starts every background service and then polls the bot until the
// context is cancelled. Returns once all services have shut down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, service := range app.services {
		app.spawnAsyncService(ctx, cancel, service)
	}

	log.Emit(logger.NEW, "Bot polling started\n")
	app.bot.Start(ctx)
	log.Emit(logger.STOP, "Bot polling stopped, waiting for services\n")

	cancel()
	app.serviceWg.Wait()
	return nil
}

// defaultHandler exists so the bot can be constructed before the
// handler set; the bot requires its default handler at creation time.
func (app *App) defaultHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if app.handlers != nil {
		app.handlers.HandleDefault(ctx, b, update)
	}
}

// spawnAsyncService runs the service on its own goroutine. A service
// failure cancels the whole app; a panic is contained and treated the
// same way.
func (app *App) spawnAsyncService(ctx context.Context, cancel context.CancelFunc, service RunnableService) {
	app.serviceWg.Add(1)
	go func() {
		defer app.serviceWg.Done()
		defer func() {
			if cause := recover(); cause != nil {
				log.Errorf("Service panic: %v\n", cause)
				cancel()
			}
		}()

		if err := service.Run(ctx); err != nil {
			log.Errorf("Service failed: %v\n", err)
			cancel()
		}
	}()
}
