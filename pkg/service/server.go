package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	fiberadaptor "github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/catalog"
	"github.com/openagents/a2a-engine/pkg/executor"
	"github.com/openagents/a2a-engine/pkg/push"
	"github.com/openagents/a2a-engine/pkg/sse"
)

/*
Server is the HTTP face of the engine: one JSON-RPC endpoint that doubles as
the SSE transport for the streaming methods, plus the agent card and a
health check.  Safe for concurrent use; all task-level locking lives in the
executor.
*/
type Server struct {
	app     *fiber.App
	addr    string
	card    a2a.AgentCard
	handler *RPCHandler
	fanout  *sse.Fanout
	mounted sync.Once
}

// Config wires a Server.  Card capabilities gate the streaming and push
// methods at the front door.
type Config struct {
	Addr     string
	Card     a2a.AgentCard
	Executor *executor.TaskExecutor
	Registry *catalog.Registry
	Fanout   *sse.Fanout
	Push     *push.Service
}

func NewServer(cfg Config) *Server {
	card := cfg.Card

	// Advertise the registered skills alongside whatever the config declared.
	for _, skill := range cfg.Registry.Skills() {
		card.Skills = append(card.Skills, a2a.AgentSkill{ID: skill, Name: skill})
	}

	return &Server{
		app: fiber.New(fiber.Config{
			AppName:           card.Name,
			ServerHeader:      "A2A-Engine",
			StreamRequestBody: true,
		}),
		addr: cfg.Addr,
		card: card,
		handler: &RPCHandler{
			executor:     cfg.Executor,
			fanout:       cfg.Fanout,
			push:         cfg.Push,
			capabilities: card.Capabilities,
		},
		fanout: cfg.Fanout,
	}
}

func (srv *Server) Start() error {
	srv.mount()

	log.Info("starting server", "addr", srv.addr, "agent", srv.card.Name)
	return srv.app.Listen(srv.addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown drains the fiber app and retires every open SSE stream.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.fanout.CloseAll()
	return srv.app.ShutdownWithContext(ctx)
}

// App exposes the underlying fiber app, mounted and ready, for tests.
func (srv *Server) App() *fiber.App {
	srv.mount()
	return srv.app
}

func (srv *Server) mount() {
	srv.mounted.Do(srv.mountOnce)
}

func (srv *Server) mountOnce() {
	srv.app.Use(logger.New(logger.Config{
		// Streaming responses hold the connection open; logging them on
		// completion is noise at the wrong moment.
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/rpc"
		},
	}), healthcheck.New())

	srv.app.Get("/", srv.handleRoot)
	srv.app.Get("/.well-known/agent.json", srv.handleAgentCard)
	srv.app.Post("/rpc", srv.handleRPC)
}

func (srv *Server) handleRoot(ctx fiber.Ctx) error {
	return ctx.SendString("OK")
}

func (srv *Server) handleAgentCard(ctx fiber.Ctx) error {
	return ctx.JSON(srv.card)
}

// handleRPC hands the request to the net/http JSON-RPC handler so the
// streaming methods can take over the connection as an SSE response.
func (srv *Server) handleRPC(ctx fiber.Ctx) error {
	return fiberadaptor.HTTPHandler(http.HandlerFunc(srv.handler.ServeHTTP))(ctx)
}
