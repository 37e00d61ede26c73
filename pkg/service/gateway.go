// Package service is the gateway's HTTP intake: the JSON-RPC surface at
// /rpc, per-agent wire endpoints at /agents/:id, agent-card and catalog
// documents, and the health surface.
package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/superxlabs/superx/pkg/bus"
	"github.com/superxlabs/superx/pkg/catalog"
	"github.com/superxlabs/superx/pkg/httpclient"
	"github.com/superxlabs/superx/pkg/mcpsession"
	"github.com/superxlabs/superx/pkg/protocol"
	"github.com/superxlabs/superx/pkg/push"
	"github.com/superxlabs/superx/pkg/stores"
	"github.com/superxlabs/superx/pkg/worker"
)

// Config carries the gateway's tunables, filled from viper by cmd/serve.
type Config struct {
	Addr      string
	PublicURL string

	CardFetchTimeout  time.Duration
	KeepAliveInterval time.Duration

	Worker  worker.Config
	Push    push.Config
	Session mcpsession.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":3210",
		PublicURL:         "http://localhost:3210",
		CardFetchTimeout:  10 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		Worker:            worker.DefaultConfig(),
		Push:              push.DefaultConfig(),
		Session:           mcpsession.DefaultConfig(),
	}
}

// Gateway bundles the intake app with every collaborator it dispatches
// into.
type Gateway struct {
	app    *fiber.App
	config Config

	catalog  *catalog.Registry
	registry *protocol.Registry
	client   *httpclient.Client
	store    *stores.InMemoryTaskStore
	pool     *worker.Pool
	sessions *mcpsession.Manager
	started  time.Time
}

// NewGateway wires the full collaborator graph from one config.
func NewGateway(config Config) *Gateway {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.PublicURL == "" {
		config.PublicURL = DefaultConfig().PublicURL
	}
	if config.CardFetchTimeout <= 0 {
		config.CardFetchTimeout = DefaultConfig().CardFetchTimeout
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = DefaultConfig().KeepAliveInterval
	}

	registry := protocol.NewRegistry()
	client := httpclient.New(config.Worker.CallTimeout)
	notifier := push.NewNotifier(config.Push)
	store := stores.NewInMemoryTaskStore(bus.New(), stores.NewPushConfigStore(), notifier)
	pool := worker.NewPool(config.Worker, registry, client, store)

	gateway := &Gateway{
		app: fiber.New(fiber.Config{
			AppName:           "SuperX Gateway",
			ServerHeader:      "SuperX-Gateway",
			StreamRequestBody: true,
		}),
		config:   config,
		catalog:  catalog.NewRegistry(),
		registry: registry,
		client:   client,
		store:    store,
		pool:     pool,
		sessions: mcpsession.NewManager(config.Session),
		started:  time.Now(),
	}

	gateway.routes()
	return gateway
}

func (gateway *Gateway) routes() {
	gateway.app.Use(logger.New(logger.Config{
		// Streaming endpoints hold connections open for minutes, logging
		// them per-request is just noise.
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/rpc" && c.Method() == fiber.MethodPost
		},
	}), healthcheck.NewHealthChecker())

	gateway.app.Get("/", func(ctx fiber.Ctx) error {
		return ctx.SendString("OK")
	})

	gateway.app.Post("/rpc", gateway.handleRPC)
	gateway.app.Post("/agents/:id", gateway.handleAgentRPC)
	gateway.app.Get("/agents/:id/.well-known/agent-card.json", gateway.handleAgentCard)
	gateway.app.Get("/agents", gateway.handleAgentList)
	gateway.app.Get("/.well-known/catalog.json", gateway.handleCatalogDocument)
	gateway.app.Get("/health", gateway.handleHealth)
	gateway.app.Get("/cluster", gateway.handleCluster)
}

// App exposes the fiber app for tests.
func (gateway *Gateway) App() *fiber.App {
	return gateway.app
}

// Store exposes the task store, used by tests and the CLI.
func (gateway *Gateway) Store() *stores.InMemoryTaskStore {
	return gateway.store
}

// Catalog exposes the agent registry.
func (gateway *Gateway) Catalog() *catalog.Registry {
	return gateway.catalog
}

// Start blocks serving the gateway address.
func (gateway *Gateway) Start() error {
	log.Info("gateway listening", "addr", gateway.config.Addr, "public_url", gateway.config.PublicURL)
	return gateway.app.Listen(gateway.config.Addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops the app and closes every MCP session.
func (gateway *Gateway) Shutdown(ctx context.Context) error {
	gateway.sessions.CloseAll()
	return gateway.app.ShutdownWithContext(ctx)
}
