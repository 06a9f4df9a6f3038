package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/application/emoji"
	"github.com/wardenhq/warden/application/gateway"
	"github.com/wardenhq/warden/application/parser"
	"github.com/wardenhq/warden/application/registry"
	"github.com/wardenhq/warden/config"
	"github.com/wardenhq/warden/domain/entities"
	"github.com/wardenhq/warden/domain/policy"
	"github.com/wardenhq/warden/infrastructure/console"
	"github.com/wardenhq/warden/infrastructure/sqlitestore"
	"github.com/wardenhq/warden/internal/version"
	"github.com/wardenhq/warden/runtime/logging"
	"github.com/wardenhq/warden/sandbox"
)

// localTenantID is the tenant the console transport runs under.
const localTenantID = "local"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot over the console transport",
	Long: `Serve reads chat messages from stdin and prints replies to stdout.
Each input line is a message from the local tenant; lines starting with the
configured command prefix are parsed as command invocations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("warden starting",
		"version", version.Version,
		"store_path", cfg.StorePath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlitestore.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	engine := policy.NewEngine(store, policy.WithDenialHandler(policy.SlogDenialHandler{}))
	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	collector := emoji.NewCollector(store, emoji.WithFlushInterval(cfg.EmojiFlushInterval))
	if err := collector.Load(ctx); err != nil {
		return fmt.Errorf("load emoji counts: %w", err)
	}
	collector.Start()
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := collector.Stop(flushCtx); err != nil {
			logger.Error("emoji flush on shutdown failed", "error", err)
		}
	}()

	manager := sandbox.NewManager(
		sandbox.WithLimits(entities.ScriptLimits{
			Timeout:     cfg.Sandbox.Timeout,
			MemoryPages: uint32(cfg.Sandbox.MemoryPages),
			MaxOutput:   cfg.Sandbox.MaxOutput,
		}),
		sandbox.WithMaxConcurrent(cfg.Sandbox.MaxConcurrent),
	)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start sandbox: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Stop(stopCtx); err != nil {
			logger.Error("sandbox shutdown failed", "error", err)
		}
	}()

	reg := registry.NewRegistry(store, manager, registry.WithShadowing(cfg.AllowShadowing))
	reg.MustRegister(registry.NewPing())
	reg.MustRegister(registry.NewRoll())
	reg.MustRegister(registry.NewHelp(reg, engine))
	reg.MustRegister(registry.NewDefine(reg))
	reg.MustRegister(registry.NewUndefine(reg))
	reg.MustRegister(registry.NewAllow(engine))
	reg.MustRegister(registry.NewDeny(engine))
	reg.MustRegister(registry.NewEmojiStats(collector))
	reg.MustRegister(registry.NewSandboxCtl(manager))
	if err := reg.VerifySeedList(cfg.GrantOnJoin); err != nil {
		return err
	}
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("load custom commands: %w", err)
	}

	transport := console.New(in, out, console.WithIdentity(localTenantID, "console", "operator"))
	defer transport.Close()

	gw := gateway.New(transport, parser.New(parser.WithPrefix(cfg.CommandPrefix)), reg, engine, collector,
		gateway.WithLogger(logger),
		gateway.WithMaxConcurrent(cfg.GatewayMaxConcurrent),
		gateway.WithSeedCommands(cfg.GrantOnJoin),
	)
	if err := gw.TenantJoined(ctx, localTenantID); err != nil {
		return fmt.Errorf("seed local tenant: %w", err)
	}

	logger.Info("serving", "prefix", cfg.CommandPrefix, "seed", cfg.GrantOnJoin)
	if err := gw.Serve(ctx); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	logger.Info("warden stopped")
	return nil
}
