package pylon

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"golang.org/x/time/rate"

	"github.com/driftlabs/pylon/dispatch"
	"github.com/driftlabs/pylon/pump"
	"github.com/driftlabs/pylon/rest"
	"github.com/driftlabs/pylon/state"
	"github.com/driftlabs/pylon/transport"
	"github.com/driftlabs/pylon/wire"
)

// identifyInterval is the minimum spacing between identify attempts across
// shards. The gateway enforces a per-identify rate limit; violating it gets
// every shard disconnected.
const identifyInterval = 5 * time.Second

// urlRefreshInterval is the minimum spacing between refetches of the gateway
// URL when reconnecting sessions find the cached one stale.
const urlRefreshInterval = 30 * time.Second

// Options configures a Client. Only Token is required.
type Options struct {
	// Token authenticates with the REST API and the gateway. Never logged.
	Token string

	// Selfbot runs the client as a user account: the bare-token auth scheme,
	// no bot-gateway metadata endpoint, and commands restricted to messages
	// authored by the account itself.
	Selfbot bool

	// Prefix triggers chat commands. Empty disables command dispatch.
	Prefix string

	// Shards fixes the shard count. Zero means use the count recommended by
	// the gateway metadata endpoint (always 1 for selfbots).
	Shards int

	// GatewayURL overrides gateway URL discovery.
	GatewayURL string

	// Workers sizes the cache-update pool. Zero means GOMAXPROCS.
	Workers int

	// PullBatch bounds how many buffered events one worker takes per demand
	// cycle. Zero means 16.
	PullBatch int

	// BaseURL overrides the REST API base path (tests).
	BaseURL string

	// HTTPClient is used for REST requests. If nil, a default client with a
	// timeout is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// A Client supervises the full pipeline: one gateway session per shard, the
// event buffer and cache-update workers, the state store, and the event and
// command routers. Create one with New, call Start to connect, and Wait or
// Stop to manage its lifetime.
type Client struct {
	logger   *slog.Logger
	rest     *rest.Client
	store    *state.Store
	router   *dispatch.Router
	commands *dispatch.Commands
	buffer   *pump.Buffer[*wire.Frame]

	selfbot   bool
	token     string
	shardOpt  int
	workers   int
	pullBatch int

	identifyLimit *rate.Limiter
	refreshLimit  *rate.Limiter

	mu         sync.Mutex
	gatewayURL string
	sessions   []*Session
	tasks      *taskgroup.Group
	cancel     context.CancelFunc
	started    bool
}

// New creates an unstarted client.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rc, err := rest.NewClient(rest.ClientConfig{
		Token:      opts.Token,
		Selfbot:    opts.Selfbot,
		BaseURL:    opts.BaseURL,
		HTTPClient: opts.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pullBatch := opts.PullBatch
	if pullBatch <= 0 {
		pullBatch = 16
	}
	return &Client{
		logger:        logger,
		rest:          rc,
		store:         state.NewStore(logger),
		router:        dispatch.NewRouter(logger),
		commands:      dispatch.NewCommands(opts.Prefix, logger),
		buffer:        pump.NewBuffer[*wire.Frame](),
		selfbot:       opts.Selfbot,
		token:         opts.Token,
		shardOpt:      opts.Shards,
		workers:       workers,
		pullBatch:     pullBatch,
		gatewayURL:    opts.GatewayURL,
		identifyLimit: rate.NewLimiter(rate.Every(identifyInterval), 1),
		refreshLimit:  rate.NewLimiter(rate.Every(urlRefreshInterval), 1),
	}, nil
}

// Rest returns the REST client.
func (c *Client) Rest() *rest.Client { return c.rest }

// State returns the in-memory state store.
func (c *Client) State() *state.Store { return c.store }

// Metrics returns the metrics map for the client. It is safe for the caller
// to add additional metrics to the map.
func (c *Client) Metrics() *expvar.Map { return metrics.emap }

// On registers fn for the given event type on behalf of module.
func (c *Client) On(event, module string, fn dispatch.Handler) *dispatch.Registration {
	return c.router.Register(event, module, fn)
}

// AddCommands merges chat commands into the command table (highest declared
// arity wins on name collisions).
func (c *Client) AddCommands(cmds ...dispatch.Command) { c.commands.Add(cmds...) }

// SetPrefix replaces the command trigger prefix.
func (c *Client) SetPrefix(prefix string) { c.commands.SetPrefix(prefix) }

// Unload removes every event handler and command owned by module.
func (c *Client) Unload(module string) {
	c.router.Unload(module)
	c.commands.Unload(module)
}

// Start connects the client: it discovers the gateway URL and shard count,
// starts the cache-update workers, then brings shards up one at a time.
// The context bounds discovery only; once Start returns, shutdown is by
// Stop. Start does not block waiting for the shards; use Wait.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("pylon: client already started")
	}

	shards, err := c.discoverLocked(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	g := taskgroup.New(nil)
	c.tasks = g
	c.started = true

	// Cache-update stage: M workers pulling demand-sized batches.
	g.Go(func() error {
		return pump.Run(runCtx, c.buffer, c.workers, c.pullBatch, func(f *wire.Frame) {
			c.process(runCtx, f)
		})
	})

	c.sessions = make([]*Session, shards)
	for i := range c.sessions {
		c.sessions[i] = newSession(i, shards, c.token, c.logger, c.dialGateway, c.buffer.Push)
	}

	// Shard starter: shard 0 immediately, each later shard only after the
	// previous one identifies (bounded, so one wedged shard cannot stall the
	// fleet forever). The limiter slot is charged when a shard starts and
	// the next shard acquires its slot only after the predecessor is ready,
	// so consecutive identifies stay at least one interval apart.
	g.Go(func() error {
		for i, s := range c.sessions {
			if i > 0 {
				select {
				case <-c.sessions[i-1].Ready():
				case <-time.After(2 * identifyInterval):
					c.logger.Warn("previous shard not ready, starting anyway", "shard", i)
				case <-runCtx.Done():
					return nil
				}
			}
			if err := c.identifyLimit.Wait(runCtx); err != nil {
				return nil
			}
			g.Go(func() error { return s.run(runCtx) })
		}
		return nil
	})
	return nil
}

// Stop disconnects all shards, drains the pipeline, and blocks until every
// task has exited. The client cannot be restarted.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, tasks := c.cancel, c.tasks
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.buffer.Close()
	tasks.Wait()
	c.router.Wait()
	c.commands.Wait()
}

// Wait blocks until the client's tasks have exited. Tasks run detached from
// the context passed to Start, so only Stop ends them.
func (c *Client) Wait() {
	c.mu.Lock()
	tasks := c.tasks
	c.mu.Unlock()
	if tasks != nil {
		tasks.Wait()
	}
}

// SetStatus updates the client's presence on every connected shard.
func (c *Client) SetStatus(status wire.StatusUpdate) {
	c.mu.Lock()
	sessions := c.sessions
	c.mu.Unlock()
	for _, s := range sessions {
		if err := s.SetStatus(status); err != nil {
			c.logger.Debug("status update skipped", "shard", s.Shard(), "err", err)
		}
	}
}

// RequestGuildMembers asks the shard serving guildID to stream its member
// list into the cache.
func (c *Client) RequestGuildMembers(guildID string) error {
	c.mu.Lock()
	sessions := c.sessions
	c.mu.Unlock()
	if len(sessions) == 0 {
		return errors.New("pylon: client not started")
	}
	return sessions[shardFor(guildID, len(sessions))].RequestGuildMembers(guildID, "", 0)
}

// discoverLocked resolves the gateway URL and shard count, consulting the
// metadata endpoint only for what the options leave open.
func (c *Client) discoverLocked(ctx context.Context) (shards int, err error) {
	shards = c.shardOpt
	if c.selfbot && shards == 0 {
		shards = 1
	}
	if c.gatewayURL != "" && shards != 0 {
		return shards, nil
	}

	var info *rest.GatewayInfo
	if c.selfbot {
		info, err = c.rest.Gateway(ctx)
	} else {
		info, err = c.rest.GatewayBot(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("pylon: gateway discovery: %w", err)
	}
	if c.gatewayURL == "" {
		c.gatewayURL = info.URL
	}
	if shards == 0 {
		shards = info.Shards
	}
	if shards <= 0 {
		shards = 1
	}
	return shards, nil
}

// dialGateway connects a session to the current gateway URL. On failure the
// cached URL is treated as possibly stale and refreshed for the next
// attempt, at most once per refresh interval across all sessions.
func (c *Client) dialGateway(ctx context.Context) (transport.Channel, error) {
	c.mu.Lock()
	url := c.gatewayURL
	c.mu.Unlock()

	ch, err := transport.Dial(ctx, url+"?v=6&encoding=json")
	if err == nil {
		return ch, nil
	}
	if c.refreshLimit.Allow() {
		if info, rerr := c.fetchGateway(ctx); rerr == nil {
			c.mu.Lock()
			c.gatewayURL = info.URL
			c.mu.Unlock()
		} else {
			c.logger.Warn("gateway URL refresh failed", "err", rerr)
		}
	}
	return nil, err
}

func (c *Client) fetchGateway(ctx context.Context) (*rest.GatewayInfo, error) {
	if c.selfbot {
		return c.rest.Gateway(ctx)
	}
	return c.rest.GatewayBot(ctx)
}

// process applies one raw frame to the cache and fans the normalized event
// out to the routers. This is the worker function of the cache-update pool:
// same-guild events serialize on the guild partition, and both downstream
// consumers are scheduled fire-and-forget so a slow one cannot starve the
// other.
func (c *Client) process(ctx context.Context, f *wire.Frame) {
	if f.Op != wire.OpDispatch {
		return
	}
	evt, err := c.store.Apply(f)
	if err != nil {
		metrics.eventsDropped.Add(1)
		if errors.Is(err, state.ErrUnknownGuild) {
			// A guild-scoped event can arrive before its guild's create has
			// been applied; such events are dropped, not queued.
			c.logger.Warn("dropped event for unknown guild", "event", f.T)
		} else {
			c.logger.Warn("dropped undecodable event", "event", f.T, "err", err)
		}
		return
	}
	metrics.eventsApplied.Add(1)

	if c.selfbot && evt.Type == wire.EventReady {
		if u := c.store.CurrentUser(); u != nil {
			c.commands.SetOwner(u.ID)
		}
	}

	metrics.handlerInvokes.Add(1)
	c.router.Dispatch(ctx, evt)
	if evt.Type == wire.EventMessageCreate && len(evt.Args) == 1 {
		if msg, ok := evt.Args[0].(*wire.Message); ok {
			c.commands.Dispatch(ctx, msg)
		}
	}
}

// shardFor maps a guild id to the shard index serving it: the top bits of
// the snowflake, modulo the shard count.
func shardFor(guildID string, shards int) int {
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil {
		return 0
	}
	return int((id >> 22) % uint64(shards))
}
