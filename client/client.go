// Package client wires the souk data-access core: config, logging,
// transport, cache, connectivity, live channel, and the domain
// repositories. Everything is dependency-injected at construction; there
// are no package-level singletons.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"souk/cache"
	"souk/connectivity"
	"souk/live"
	"souk/repository"
	"souk/transport"
)

// Deps are the externally supplied collaborators.
type Deps struct {
	// Session supplies, refreshes and clears the bearer credential.
	// Required.
	Session transport.SessionProvider

	// Oracle overrides connectivity detection. Platform shells inject
	// their native reachability API here. Nil falls back to the config's
	// dial probe, or to always-online.
	Oracle connectivity.Oracle

	// OnUnauthenticated fires once per failed token refresh, after the
	// session and the whole cache have been cleared.
	OnUnauthenticated func()
}

// Client is the assembled data-access core. One instance per process is
// the intended sharing model; every piece inside is safe for concurrent
// use.
type Client struct {
	cfg Config
	log Logger

	registry *prometheus.Registry

	api   *transport.Client
	store cache.Store

	liveReg *live.Registry
	socket  *live.Socket

	events        *repository.Events
	users         *repository.Users
	orders        *repository.Orders
	chat          *repository.Chat
	payments      *repository.Payments
	notifications *repository.Notifications
	verifications *repository.Verifications
	search        *repository.Search

	stopSocket context.CancelFunc
	socketDone chan struct{}
}

// New constructs a fully wired Client from config and collaborators.
func New(cfg Config, log Logger, deps Deps) (*Client, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if deps.Session == nil {
		return nil, errors.New("session provider is required")
	}

	promReg := prometheus.NewRegistry()

	store, err := newStore(cfg, log)
	if err != nil {
		return nil, err
	}

	cacheMetrics := cache.NewMetrics(promReg)

	onUnauthenticated := func() {
		// A dead session means every cached snapshot belongs to a user who
		// is no longer signed in.
		if err := store.InvalidateAll(context.Background()); err != nil {
			log.Warn("client.cache.clear.fail", "err", err)
		}
		if deps.OnUnauthenticated != nil {
			deps.OnUnauthenticated()
		}
	}

	api, err := transport.New(log, cfg.BaseURL, deps.Session, transport.Options{
		Timeout:           cfg.RequestTimeout,
		Metrics:           transport.NewMetrics(promReg),
		OnUnauthenticated: onUnauthenticated,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("transport: %w", err)
	}

	oracle := deps.Oracle
	if oracle == nil {
		if cfg.ProbeAddr != "" {
			oracle = &connectivity.Probe{Addr: cfg.ProbeAddr}
		} else {
			oracle = connectivity.Always
		}
	}

	c := &Client{
		cfg:      cfg,
		log:      log,
		registry: promReg,
		api:      api,
		store:    store,
	}

	if cfg.SocketURL != "" {
		liveMetrics := live.NewMetrics(promReg)
		c.socket = live.NewSocket(log, cfg.SocketURL, deps.Session, liveMetrics)
		c.liveReg = live.NewRegistry(log, store, c.socket, liveMetrics)
		c.socket.SetHandler(c.liveReg.HandleFrame)

		socketCtx, cancel := context.WithCancel(context.Background())
		c.stopSocket = cancel
		c.socketDone = make(chan struct{})
		go func() {
			defer close(c.socketDone)
			if err := c.socket.Run(socketCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("client.socket.fail", "err", err)
			}
		}()
	}

	core := repository.NewCore(log, api, store, oracle, cacheMetrics)

	c.events = repository.NewEvents(core)
	c.users = repository.NewUsers(core)
	c.orders = repository.NewOrders(core)
	c.chat = repository.NewChat(core, c.liveReg)
	c.payments = repository.NewPayments(core)
	c.notifications = repository.NewNotifications(core)
	c.verifications = repository.NewVerifications(core)
	c.search = repository.NewSearch(core)

	log.Info("client.ready",
		"base_url", cfg.BaseURL,
		"push", cfg.SocketURL != "",
		"persistent_cache", cfg.CachePath != "",
	)
	return c, nil
}

// Close tears down the live socket and the cache backend.
func (c *Client) Close() error {
	if c.stopSocket != nil {
		c.stopSocket()
		<-c.socketDone
	}
	return c.store.Close()
}

// Events returns the event-domain repository.
func (c *Client) Events() *repository.Events { return c.events }

// Users returns the user-domain repository.
func (c *Client) Users() *repository.Users { return c.users }

// Orders returns the order-domain repository.
func (c *Client) Orders() *repository.Orders { return c.orders }

// Chat returns the chat-domain repository.
func (c *Client) Chat() *repository.Chat { return c.chat }

// Payments returns the payment-domain repository.
func (c *Client) Payments() *repository.Payments { return c.payments }

// Notifications returns the notification-domain repository.
func (c *Client) Notifications() *repository.Notifications { return c.notifications }

// Verifications returns the verification-domain repository.
func (c *Client) Verifications() *repository.Verifications { return c.verifications }

// Search returns the search/recommendation repository.
func (c *Client) Search() *repository.Search { return c.search }

// Metrics exposes the client's prometheus registry for scraping or
// embedding into a host application's gatherer.
func (c *Client) Metrics() *prometheus.Registry { return c.registry }

func newStore(cfg Config, log Logger) (cache.Store, error) {
	if cfg.CachePath == "" {
		log.Info("client.cache.memory")
		return cache.NewMemoryStore(), nil
	}

	store, err := cache.OpenSQLite(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	log.Info("client.cache.sqlite", "path", cfg.CachePath)
	return store, nil
}
