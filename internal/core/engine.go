// Package core wires one client: the entity cache, the snapshot builder, the
// REST client with its rate-limit dispatcher, the guild setup controller and
// the gateway session. Nothing here is process-global; each Engine owns its
// own instances.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guildwire/guildwire/internal/api"
	"github.com/guildwire/guildwire/internal/cache"
	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/events"
	"github.com/guildwire/guildwire/internal/gateway"
	"github.com/guildwire/guildwire/internal/guildsetup"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
	"github.com/guildwire/guildwire/internal/ratelimit"
	"github.com/guildwire/guildwire/internal/snapshot"
	"github.com/guildwire/guildwire/internal/version"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("engine already started")

// Option customizes an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	dialer gateway.Dialer
}

// WithDialer replaces the websocket dialer used by the gateway session.
func WithDialer(d gateway.Dialer) Option {
	return func(o *engineOptions) { o.dialer = d }
}

// Engine is the per-client composition root.
type Engine struct {
	config     *config.Config
	cache      *cache.Cache
	builder    *snapshot.Builder
	apiClient  *api.Client
	controller *guildsetup.Controller
	session    *gateway.Session
	router     *gateway.Router
	eventBus   *events.EventBus
	logger     *logging.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{}

	readyOnce    sync.Once
	sessionReady chan struct{}
	stopOnce     sync.Once
}

// NewEngine builds every component for cfg. Nothing connects until Start.
func NewEngine(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := engineOptions{dialer: gateway.WebsocketDialer(version.UserAgent())}
	for _, opt := range opts {
		opt(&o)
	}

	apiClient, err := api.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	c := cache.New()
	apiClient.SetGuildAvailability(c)
	builder := snapshot.NewBuilder(c, logger)
	eventBus := events.NewEventBus(0)

	session := gateway.NewSession(gateway.Options{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Token,
		Intents:        cfg.Gateway.Intents,
		Compress:       cfg.Gateway.Compress,
		LargeThreshold: cfg.Gateway.LargeThreshold,
		Dialer:         o.dialer,
		Bus:            eventBus,
		Logger:         logger,
	})
	router := gateway.NewRouter(builder, logger)
	controller := guildsetup.NewController(builder, session, guildsetup.Options{
		AccountType:  cfg.AccountType,
		ChunkTimeout: cfg.GuildSetup.ChunkTimeout,
		Scheduler:    session.Post,
		Replay:       router.Replay,
		Bus:          eventBus,
		Logger:       logger,
	})
	router.SetController(controller)
	session.SetHandler(router)

	e := &Engine{
		config:       cfg,
		cache:        c,
		builder:      builder,
		apiClient:    apiClient,
		controller:   controller,
		session:      session,
		router:       router,
		eventBus:     eventBus,
		logger:       logger.Component("engine"),
		stopped:      make(chan struct{}),
		sessionReady: make(chan struct{}),
	}
	controller.OnSessionReady(func() {
		e.readyOnce.Do(func() { close(e.sessionReady) })
	})
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.config }

// Cache returns the entity cache.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// API returns the REST client.
func (e *Engine) API() *api.Client { return e.apiClient }

// Events returns the lifecycle event bus.
func (e *Engine) Events() *events.EventBus { return e.eventBus }

// Controller returns the guild setup controller.
func (e *Engine) Controller() *guildsetup.Controller { return e.controller }

// Session returns the gateway session.
func (e *Engine) Session() *gateway.Session { return e.session }

// Buckets returns a snapshot of the REST rate-limit buckets.
func (e *Engine) Buckets() []ratelimit.BucketInfo {
	return e.apiClient.Dispatcher().Buckets()
}

// OnGuildReady registers fn to run every time a guild becomes ready.
func (e *Engine) OnGuildReady(fn func(*cache.Guild)) {
	e.controller.OnGuildReady(fn)
}

// Start resolves the gateway URL when it is not configured and runs the
// gateway session in the background. ctx bounds only the URL lookup.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.running = true
	e.mu.Unlock()

	url := e.config.Gateway.URL
	if url == "" {
		var err error
		url, err = e.resolveGatewayURL(ctx)
		if err != nil {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return err
		}
	}
	e.session.SetURL(url)

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.session.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error().Err(err).Msg("gateway session stopped")
		}
	}()
	e.logger.Info().Str("gateway", url).Str("account_type", e.config.AccountType).Msg("engine started")
	return nil
}

func (e *Engine) resolveGatewayURL(ctx context.Context) (string, error) {
	if e.config.IsClientAccount() {
		url, err := e.apiClient.GetGateway(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to resolve gateway URL: %w", err)
		}
		return url, nil
	}
	gw, err := e.apiClient.GetGatewayBot(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve gateway URL: %w", err)
	}
	e.logger.Debug().
		Int("shards", gw.Shards).
		Int("identify_remaining", gw.SessionStartLimit.Remaining).
		Msg("gateway resolved")
	return gw.URL, nil
}

// WaitReady blocks until every guild announced in READY is ready or
// confirmed unavailable.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.sessionReady:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the gateway session, fails queued REST calls and closes the
// event bus.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		cancel := e.cancel
		e.running = false
		e.mu.Unlock()
		close(e.stopped)

		if cancel != nil {
			cancel()
		}
		e.wg.Wait()
		e.apiClient.Close()
		e.eventBus.Close()
		e.logger.Info().Msg("engine stopped")
	})
}

// onEventLoop runs fn on the gateway event goroutine so it is ordered with
// inbound events. Before Start fn runs inline.
func (e *Engine) onEventLoop(ctx context.Context, fn func()) error {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		fn()
		return nil
	}

	done := make(chan struct{})
	go e.session.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ratelimit.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkChannel fails fast when the channel belongs to an unavailable guild.
func (e *Engine) checkChannel(channelID models.Snowflake) error {
	ch, ok := e.cache.Channel(channelID)
	if ok && e.cache.Unavailable(ch.Guild.ID) {
		return fmt.Errorf("channel %s: %w", channelID, api.ErrGuildUnavailable)
	}
	return nil
}

// ModifyRole updates a role through REST and applies the result to the cached
// role in place.
func (e *Engine) ModifyRole(ctx context.Context, guildID, roleID models.Snowflake, update api.RoleUpdate, opts ...api.RequestOption) (*models.Role, error) {
	role, err := e.apiClient.ModifyRole(ctx, guildID, roleID, update, opts...)
	if err != nil {
		return nil, err
	}
	err = e.onEventLoop(ctx, func() {
		if g, ok := e.cache.Guild(guildID); ok {
			e.builder.UpsertRole(g, *role)
		}
	})
	return role, err
}

// DeleteChannel deletes a channel through REST and removes it from the cache.
func (e *Engine) DeleteChannel(ctx context.Context, channelID models.Snowflake, opts ...api.RequestOption) error {
	if err := e.checkChannel(channelID); err != nil {
		return err
	}
	if _, err := e.apiClient.DeleteChannel(ctx, channelID, opts...); err != nil {
		return err
	}
	return e.onEventLoop(ctx, func() {
		ch, ok := e.cache.Channel(channelID)
		if !ok {
			return
		}
		if g, ok := e.cache.Guild(ch.Guild.ID); ok {
			e.builder.DeleteChannel(g, channelID)
		}
	})
}

// SendMessage posts a text message to a channel.
func (e *Engine) SendMessage(ctx context.Context, channelID models.Snowflake, content string) (*models.Message, error) {
	if err := e.checkChannel(channelID); err != nil {
		return nil, err
	}
	return e.apiClient.CreateMessage(ctx, channelID, api.MessageCreate{Content: content})
}
