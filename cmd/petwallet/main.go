// Pet wallet HTTP server.
// Usage: go run ./cmd/petwallet
//
// @title        Pet Wallet API
// @version      1.0
// @description  Gasless pet actions through a sponsoring relay with a session key, falling back to owner-funded transactions.
// @BasePath     /
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlexZinkM/pet-wallet/internal/api"
	"github.com/AlexZinkM/pet-wallet/internal/client"
	"github.com/AlexZinkM/pet-wallet/internal/config"
	"github.com/AlexZinkM/pet-wallet/internal/handler"
	"github.com/AlexZinkM/pet-wallet/internal/keystore"
	"github.com/AlexZinkM/pet-wallet/internal/orchestrator"
	"github.com/AlexZinkM/pet-wallet/internal/storage"
	"github.com/AlexZinkM/pet-wallet/internal/wallet"
	"github.com/AlexZinkM/pet-wallet/pet"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Get()

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := config.PromptForPassword(); err != nil {
		logger.Fatal("failed to read keystore password", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	password, err := config.GetPasswordBytes()
	if err != nil {
		return err
	}
	store, err := storage.NewFileStorage(cfg.KeystoreDir, password)
	clear(password)
	config.ClearPassword()
	if err != nil {
		return err
	}
	defer store.Close()

	contract, err := pet.New(cfg.PetAddress())
	if err != nil {
		return err
	}

	w := wallet.New(keystore.New(store), store,
		wallet.WithLogger(logger.Named("wallet")),
		wallet.WithPermissions(contract.SessionPermissions()),
	)
	if err := w.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore wallet: %w", err)
	}

	chain, err := client.DialChain(ctx, cfg.RPCURL, cfg.ChainID, logger.Named("chain"))
	if err != nil {
		return err
	}

	var relay orchestrator.Relay
	if cfg.RelayEnabled {
		rc, err := client.DialRelay(ctx, cfg.RelayURL, cfg.ChainID, cfg.FeeTokenAddress(),
			client.WithRelayLogger(logger.Named("relay")),
			client.WithRetryPolicy(cfg.RetryPolicy()),
		)
		if err != nil {
			return err
		}
		relay = rc
	}

	threshold, err := cfg.PrefundThresholdWei()
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(w, relay, chain, orchestrator.Config{
		RelayEnabled:     cfg.RelayEnabled,
		Delegation:       cfg.DelegationAddress(),
		Policy:           cfg.RetryPolicy(),
		PrefundThreshold: threshold,
	}, orchestrator.WithLogger(logger.Named("orchestrator")))
	if err != nil {
		return err
	}

	pets, err := handler.NewPetHandler(orch, contract, chain, w, logger.Named("http"))
	if err != nil {
		return err
	}
	var walletOpts []handler.WalletOption
	if cfg.PriceAPIURL != "" {
		walletOpts = append(walletOpts, handler.WithPrices(client.NewPriceClient(cfg.PriceAPIURL, cfg.PriceCurrency)))
	}
	wallets, err := handler.NewWalletHandler(w, chain, cfg.ChainID, logger.Named("http"), walletOpts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.SetupRouter(pets, wallets),
		ReadHeaderTimeout: 10 * time.Second,
		// a submission may poll for the whole status budget
		WriteTimeout: cfg.RetryPolicy().StatusBudget() + time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		owner, _ := w.Owner()
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("owner", owner.Address.Hex()),
			zap.Stringer("state", w.State()),
			zap.Bool("relay", cfg.RelayEnabled),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
