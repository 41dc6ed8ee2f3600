package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/market-engine/market-engine/internal/api/http"
	appConsent "github.com/market-engine/market-engine/internal/application/consent"
	appDelivery "github.com/market-engine/market-engine/internal/application/delivery"
	appDispute "github.com/market-engine/market-engine/internal/application/dispute"
	appLease "github.com/market-engine/market-engine/internal/application/lease"
	appLedger "github.com/market-engine/market-engine/internal/application/ledger"
	appMetrics "github.com/market-engine/market-engine/internal/application/metrics"
	appOffer "github.com/market-engine/market-engine/internal/application/offer"
	appOrder "github.com/market-engine/market-engine/internal/application/order"
	appResource "github.com/market-engine/market-engine/internal/application/resource"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	appReward "github.com/market-engine/market-engine/internal/application/reward"
	appSettlement "github.com/market-engine/market-engine/internal/application/settlement"
	appTransparency "github.com/market-engine/market-engine/internal/application/transparency"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/blob"
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/config"
	"github.com/market-engine/market-engine/internal/store"
	"github.com/market-engine/market-engine/internal/store/filestore"
	"github.com/market-engine/market-engine/internal/store/sqlstore"
	"github.com/market-engine/market-engine/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx := context.Background()
	st, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("store open failed")
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("store migration failed")
	}

	// infrastructure
	var blobs blob.Store
	if cfg.BlobSecret != "" {
		blobs, err = blob.NewFileStore(cfg.BlobDir, cfg.BlobSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("blob store open failed")
		}
	} else {
		logger.Warn().Msg("no blob secret configured, delivery payloads stay inline")
	}

	var adapter chain.Adapter = chain.NoopAdapter{}
	if cfg.ChainNetwork != "" && cfg.ChainNetwork != "none" {
		adapter = chain.NewMemoryAdapter(cfg.ChainNetwork)
		logger.Warn().Str("network", cfg.ChainNetwork).
			Msg("using in-process chain adapter, anchors and receipts do not survive a restart")
	}

	notifier := webhook.NewHMACNotifier(cfg.WebhookSecret,
		webhook.WithTimeout(cfg.WebhookTimeout),
		webhook.WithAPIKey(cfg.WebhookAPIKey),
	)

	recorder := auditlog.NewRecorder(st, adapter, logger)
	engine := appRevocation.NewEngine(st, notifier, recorder, logger,
		appRevocation.WithRetryDelay(cfg.RevocationRetryDelay),
		appRevocation.WithMaxAttempts(cfg.RevocationMaxRetries),
	)

	// services
	rewardSvc := appReward.NewService(st, adapter, recorder, logger)
	leaseSvc := appLease.NewService(st, recorder, engine, logger)
	services := httpapi.Services{
		Offer:        appOffer.NewService(st, recorder, logger),
		Order:        appOrder.NewService(st, recorder, logger),
		Consent:      appConsent.NewService(st, recorder, engine, logger),
		Delivery:     appDelivery.NewService(st, blobs, recorder, engine, logger),
		Settlement:   appSettlement.NewService(st, recorder, logger),
		Dispute:      appDispute.NewService(st, recorder, logger),
		Resource:     appResource.NewService(st, recorder, logger),
		Lease:        leaseSvc,
		Ledger:       appLedger.NewService(st, logger),
		Reward:       rewardSvc,
		Revocation:   engine,
		Transparency: appTransparency.NewService(st, recorder, logger),
		Metrics:      appMetrics.NewService(st, nil, logger),
	}

	apiServer := httpapi.NewServer(services, httpapi.NewAuthenticator(cfg.APIKeys), logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	go func() {
		ticker := time.NewTicker(cfg.RevocationSweepEvery)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := engine.Sweep(context.Background()); err != nil {
				logger.Error().Err(err).Msg("revocation sweep failed")
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.RewardPollEvery)
		defer ticker.Stop()
		for range ticker.C {
			if _, _, err := rewardSvc.PollSubmitted(context.Background()); err != nil {
				logger.Error().Err(err).Msg("reward poll failed")
			}
			if _, err := recorder.FlushPendingAnchors(context.Background()); err != nil {
				logger.Error().Err(err).Msg("anchor flush failed")
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.LeaseSweepEvery)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := leaseSvc.ExpireSweep(context.Background()); err != nil {
				logger.Error().Err(err).Msg("lease expiry sweep failed")
			}
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

// openStore picks the backend from the DSN: empty means the embedded
// file store, anything else goes through database/sql.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreDSN == "" {
		return filestore.Open(cfg.StateDir)
	}
	return sqlstore.Open(cfg.StoreDSN)
}
