package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/yield-vault/aavevault/config"
	"github.com/yield-vault/aavevault/internal/ledger"
	"github.com/yield-vault/aavevault/internal/logger"
	"github.com/yield-vault/aavevault/internal/server"
	"github.com/yield-vault/aavevault/internal/vault"
	"github.com/yield-vault/aavevault/internal/venue/simvenue"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to config.json (default: config/config.json if present)")
	addr := flag.String("addr", "", "HTTP listen address")
	logLevel := flag.String("log-level", "", "Log level")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		log.Fatal().Err(err).Msg("invalid environment override")
	}

	// Flags win over file and environment
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if cfg.Log.Format == "json" {
		logger.InitializeJSON(cfg.Log.Level, nil)
	} else {
		logger.Initialize(cfg.Log.Level, nil)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("vaultd exited")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.LoadDefault()
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func run(cfg *config.Config) error {
	vaultAddr := cfg.VaultAddress()

	market := simvenue.NewMarket(simvenue.Config{
		AssetSymbol:   cfg.Devnet.AssetSymbol,
		AssetDecimals: cfg.Devnet.AssetDecimals,
	})
	log.Info().
		Str("asset", market.AssetToken().Address().Hex()).
		Str("receipt_token", market.ATokenAddress().Hex()).
		Str("registry", market.RegistryAddress().Hex()).
		Msg("devnet market deployed")

	// The devnet market does not survive a restart, so neither does the ledger.
	store := ledger.NewMemoryStore()
	defer store.Close()

	v, err := vault.New(vault.Params{
		Vault:               vaultAddr,
		Asset:               market.Asset(vaultAddr),
		ReceiptToken:        market.ReceiptToken(),
		Registry:            market.Registry(vaultAddr),
		Provider:            cfg.ProviderAddress(),
		IncentiveController: market.Controller(vaultAddr),
		Name:                cfg.Vault.Name,
		Symbol:              cfg.Vault.Symbol,
		Owner:               cfg.OwnerAddress(),
		Store:               store,
	})
	if err != nil {
		return err
	}
	if err := v.CheckBacking(context.Background()); err != nil {
		return err
	}

	srv := server.NewServer(v, market.Faucet(vaultAddr))
	shutdownTimeout, err := cfg.ShutdownTimeout()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
