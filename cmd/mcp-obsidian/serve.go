package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggoodman/mcp-obsidian-go/auth"
	"github.com/ggoodman/mcp-obsidian-go/catalog"
	"github.com/ggoodman/mcp-obsidian-go/config"
	"github.com/ggoodman/mcp-obsidian-go/internal/wellknown"
	"github.com/ggoodman/mcp-obsidian-go/restapi"
	"github.com/ggoodman/mcp-obsidian-go/server"
	"github.com/ggoodman/mcp-obsidian-go/sessions"
	"github.com/ggoodman/mcp-obsidian-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-obsidian-go/sessions/redishost"
	"github.com/ggoodman/mcp-obsidian-go/telemetry"
	"github.com/ggoodman/mcp-obsidian-go/tools"
	"github.com/ggoodman/mcp-obsidian-go/vault"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().String("host", "", "Listen host (overrides MCP_HTTP_HOST)")
	cmd.Flags().IntP("port", "p", 0, "Listen port (overrides MCP_HTTP_PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.HTTP.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTP.Port, _ = cmd.Flags().GetInt("port")
	}

	log, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("telemetry.shutdown.fail", slog.String("err", err.Error()))
		}
	}()
	observer, err := providers.Observer()
	if err != nil {
		return fmt.Errorf("telemetry observer: %w", err)
	}

	registry, err := buildRegistry(cfg, log, tools.WithObserver(observer))
	if err != nil {
		return err
	}

	host, closeHost, err := buildSessionHost(cfg)
	if err != nil {
		return err
	}
	defer closeHost()

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	guardOpts := []auth.GuardOption{auth.WithGuardLogger(log)}
	serverOpts := []server.Option{
		server.WithLogger(log),
		server.WithVersion(version),
		server.WithCORSOrigin(cfg.HTTP.CORSOrigin),
		server.WithMaxBody(cfg.HTTP.MaxBody),
		server.WithHeartbeat(cfg.SSE.Heartbeat),
	}
	if meta, ok := protectedResource(cfg); ok {
		guardOpts = append(guardOpts, auth.WithResourceMetadata(meta.MetadataURL()))
		serverOpts = append(serverOpts, server.WithProtectedResource(meta))
	}
	guard := auth.NewGuard(verifier, guardOpts...)

	srv, err := server.New(registry, guard, host, serverOpts...)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	log.Info("server.start",
		slog.String("version", version),
		slog.Int("tools", registry.Len()),
		slog.String("sessions", cfg.Sessions.Backend),
		slog.String("vault", cfg.VaultConfig().BaseURL()),
	)
	return srv.Serve(ctx, ln)
}

// buildRegistry registers the vault catalog into a sealed registry.
func buildRegistry(cfg *config.Config, log *slog.Logger, opts ...tools.Option) (*tools.Registry, error) {
	client, err := vault.New(cfg.VaultConfig(), vault.WithLogger(log))
	if err != nil {
		return nil, err
	}
	registry := tools.NewRegistry(append([]tools.Option{tools.WithLogger(log)}, opts...)...)
	catalog.Register(registry, client, catalog.WithPrefix(cfg.Tools.Prefix))
	registry.Seal()
	return registry, nil
}

func buildSessionHost(cfg *config.Config) (sessions.Host, func(), error) {
	switch cfg.Sessions.Backend {
	case "redis":
		h, err := redishost.New(cfg.Sessions.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis session host: %w", err)
		}
		return h, func() { _ = h.Close() }, nil
	default:
		return memoryhost.New(memoryhost.WithMaxPending(int(cfg.Sessions.Redis.MaxLen))), func() {}, nil
	}
}

// protectedResource describes this server for OAuth clients. It is only
// published when tokens come from an issuer and the public URL is known.
func protectedResource(cfg *config.Config) (wellknown.ProtectedResourceMetadata, bool) {
	if cfg.Auth.Issuer == "" || cfg.HTTP.PublicURL == "" {
		return wellknown.ProtectedResourceMetadata{}, false
	}
	meta := wellknown.NewProtectedResource(cfg.HTTP.PublicURL, cfg.Auth.Issuer, cfg.Auth.JWKSURL, restapi.ServerName)
	meta.ScopesSupported = cfg.Auth.Scopes
	return meta, true
}

// buildVerifier picks JWT verification when an issuer is configured, the
// static key when MCP_HTTP_API_KEY is set, and open mode otherwise.
func buildVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	switch {
	case cfg.Auth.Issuer != "":
		v, err := auth.NewAccessTokenVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.JWKSURL,
			auth.WithRequiredScopes(cfg.Auth.Scopes...),
			auth.WithAllowedAlgs(cfg.Auth.Algs...),
			auth.WithLeeway(cfg.Auth.Leeway),
		)
		if err != nil {
			return nil, err
		}
		return v, nil
	case cfg.HTTP.APIKey != "":
		return auth.StaticKey(cfg.HTTP.APIKey), nil
	default:
		return nil, nil
	}
}
