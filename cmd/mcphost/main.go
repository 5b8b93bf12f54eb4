// Command mcphost runs the MCP host: it loads a YAML config describing LLM
// providers, MCP servers, and the risk/HITL/roots/sampling policies, then
// serves the HTTP surface until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/chrisyu/mcphost/pkg/config"
	"github.com/chrisyu/mcphost/pkg/hitl"
	"github.com/chrisyu/mcphost/pkg/host"
	"github.com/chrisyu/mcphost/pkg/llm"
	"github.com/chrisyu/mcphost/pkg/logger"
	"github.com/chrisyu/mcphost/pkg/mcpsse"
	"github.com/chrisyu/mcphost/pkg/mcpstdio"
	"github.com/chrisyu/mcphost/pkg/observability"
	"github.com/chrisyu/mcphost/pkg/roots"
	"github.com/chrisyu/mcphost/pkg/sampling"
	"github.com/chrisyu/mcphost/pkg/server"
)

// CLI is the root command set.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the MCP host HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the config file's JSON Schema."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"mcphost.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	fmt.Printf("mcphost version %s\n", version)
	return nil
}

// ValidateCmd checks a config file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

// ServeCmd starts the host's HTTP surface and connects the configured MCP
// servers.
type ServeCmd struct {
	ListenAddr string `help:"Override the configured HTTP listen address."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := observability.InitTracerProvider(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	log := logger.Get()

	llmRegistry, err := buildLLMRegistry(cfg.LLM)
	if err != nil {
		return fmt.Errorf("build llm registry: %w", err)
	}

	rootsRegistry := roots.NewRegistry()
	for _, rc := range cfg.Roots.Global {
		root, err := roots.FromPath(rc.Path, rc.Name, rootTypeOf(rc.Type))
		if err != nil {
			return fmt.Errorf("global root %s: %w", rc.Path, err)
		}
		rootsRegistry.AddGlobalRoot(root)
	}

	hitlGate := hitl.NewGate(cfg.HITLPolicy())
	defer hitlGate.Stop()

	samplingSvc := sampling.NewService(cfg.SamplingPolicy(), llmRegistry)

	facade := host.New(rootsRegistry, cfg.RiskPolicy(), hitlGate, samplingSvc, llmRegistry)
	defer facade.CleanupAll()

	if err := startConfiguredServers(ctx, cfg, facade, log); err != nil {
		return err
	}

	addr := cfg.HTTP.ListenAddr
	if c.ListenAddr != "" {
		addr = c.ListenAddr
	}

	srv := server.New(facade, cfg, log)
	slog.Info("mcphost listening", "addr", addr)
	return srv.ListenAndServe(ctx, addr)
}

func buildLLMRegistry(cfg config.LLMConfig) (*llm.Registry, error) {
	registry := llm.NewRegistry(cfg.DefaultProvider)
	for name, pc := range cfg.Providers {
		provider, err := newProvider(name, pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		if provider != nil {
			registry.Register(name, provider)
		}
	}
	return registry, nil
}

func newProvider(name string, pc config.ProviderConfig) (llm.Provider, error) {
	switch name {
	case "openai":
		opts := []llm.OpenAIOption{llm.WithOpenAIModel(pc.Model)}
		if pc.BaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(pc.BaseURL))
		}
		if pc.Timeout > 0 {
			opts = append(opts, llm.WithOpenAITimeout(pc.Timeout))
		}
		return llm.NewOpenAI(pc.APIKey, opts...)
	case "anthropic":
		return llm.NewAnthropic(pc.APIKey, llm.WithAnthropicModel(pc.Model))
	case "ollama":
		opts := []func(*llm.OllamaConfig){llm.WithOllamaModel(pc.Model)}
		if pc.BaseURL != "" {
			opts = append(opts, llm.WithOllamaBaseURL(pc.BaseURL))
		}
		return llm.NewOllama(opts...), nil
	case "qwen":
		opts := []func(*llm.QwenConfig){llm.WithQwenModel(pc.Model)}
		if pc.BaseURL != "" {
			opts = append(opts, llm.WithQwenBaseURL(pc.BaseURL))
		}
		return llm.NewQwen(pc.APIKey, opts...)
	case "zhipu":
		return llm.NewZhipu(pc.APIKey, llm.WithZhipuModel(pc.Model))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func rootTypeOf(s string) roots.Type {
	switch s {
	case "project":
		return roots.TypeProject
	case "workspace":
		return roots.TypeWorkspace
	case "resource":
		return roots.TypeResource
	default:
		return roots.TypeCustom
	}
}

// startConfiguredServers spawns every stdio server and connects every SSE
// server named in the config, wiring each to the facade's sampling/roots
// callbacks before registering it.
func startConfiguredServers(ctx context.Context, cfg *config.Config, facade *host.Facade, log *slog.Logger) error {
	stdioGroup, stdioCtx := errgroup.WithContext(ctx)
	for key, sc := range cfg.Servers.Stdio {
		key, sc := key, sc
		stdioGroup.Go(func() error {
			session := mcpstdio.NewSession(mcpstdio.Config{
				ServerKey:       key,
				Command:         sc.Command,
				Args:            sc.Args,
				Env:             sc.Env,
				SamplingEnabled: true,
			}, facade.SamplingHandler, facade.RootsListHandler, nil, log)
			if err := session.Start(stdioCtx); err != nil {
				return fmt.Errorf("start stdio server %s: %w", key, err)
			}
			facade.AddStdioSession(key, session)
			slog.Info("stdio server started", "server", key)
			return nil
		})
	}
	if err := stdioGroup.Wait(); err != nil {
		return err
	}

	// SSE servers each open their own long-lived GET stream and reconnect
	// loop; connecting them is a fan-out/fan-in of independent handshakes,
	// so one slow or unreachable server doesn't serialize startup behind it.
	sseGroup, sseCtx := errgroup.WithContext(ctx)
	for key, sc := range cfg.Servers.SSE {
		key, sc := key, sc
		sseGroup.Go(func() error {
			session := mcpsse.NewSession(mcpsse.Config{
				ServerKey:       key,
				URL:             sc.URL,
				PostURL:         sc.PostURL,
				Auth:            mcpsse.AuthMode(sc.Auth),
				AuthHeaderName:  sc.AuthHeaderName,
				AuthValue:       sc.AuthValue,
				SamplingEnabled: true,
			}, facade.SamplingHandler, facade.RootsListHandler, nil, log)
			if err := session.Start(sseCtx); err != nil {
				return fmt.Errorf("connect sse server %s: %w", key, err)
			}
			facade.AddSSESession(key, session)
			slog.Info("sse server connected", "server", key)
			return nil
		})
	}
	return sseGroup.Wait()
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("mcphost"),
		kong.Description("MCP host: mediates between an LLM and MCP tool servers."),
		kong.UsageOnError(),
	)

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
