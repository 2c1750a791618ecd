package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	amhttp "github.com/Strob0t/agentmode/internal/adapter/http"
	ammcp "github.com/Strob0t/agentmode/internal/adapter/mcp"
	amotel "github.com/Strob0t/agentmode/internal/adapter/otel"
	"github.com/Strob0t/agentmode/internal/middleware"
	"github.com/Strob0t/agentmode/internal/secrets"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var mcpStdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP, WebSocket and MCP API for an editor host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := wire(cmd.Context(), cfg, wireOptions{live: !mcpStdio})
			if err != nil {
				return err
			}
			defer a.close()

			if mcpStdio {
				return a.mcpServer().ServeStdio()
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	return cmd
}

func (a *app) mcpServer() *ammcp.Server {
	return ammcp.NewServer(ammcp.ServerConfig{
		Name:    "agentmode",
		Version: amhttp.Version,
		APIKey:  a.secrets.Source(secrets.MCPAPIKey),
	}, ammcp.ServerDeps{Planner: a.planner, Memory: a.memory})
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(amhttp.CORS(a.cfg.Server.CORSOrigin))
	r.Use(amhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(amotel.HTTPMiddleware(a.cfg.Otel.ServiceName))

	opts := amhttp.RouteOptions{WS: a.hub.HandleWS}
	if a.cfg.Server.PlanRatePerMinute > 0 {
		limiter := middleware.NewRateLimiter(a.cfg.Server.PlanRatePerMinute, a.cfg.Server.PlanBurst, 10_000, 15*time.Minute)
		opts.PlanLimiter = limiter.Handler
	}
	if a.cfg.MCP.Enabled {
		opts.MCP = a.mcpServer().Handler()
	}
	amhttp.MountRoutes(r, &amhttp.Handlers{
		Planner: a.planner,
		Engine:  a.engine,
		Memory:  a.memory,
	}, opts)
	return r
}

// serve runs the HTTP server and the outcome subscriber until ctx is
// cancelled. SIGHUP reloads the secrets file.
func serve(ctx context.Context, a *app) error {
	cancelOutcomes, err := a.memory.StartOutcomeSubscriber(ctx)
	if err != nil {
		return err
	}
	defer cancelOutcomes()

	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: /run holds the response until the chunk finishes.
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr, "mcp", a.cfg.MCP.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.secrets.ReloadOn(gctx, syscall.SIGHUP)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
