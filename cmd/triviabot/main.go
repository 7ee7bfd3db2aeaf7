// Package main provides the entry point for the trivia pot bot.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trivia-pot/internal/chat"
	"trivia-pot/internal/config"
	"trivia-pot/internal/discovery"
	"trivia-pot/internal/ledger"
	"trivia-pot/internal/logger"
	"trivia-pot/internal/oracle"
	"trivia-pot/internal/round"
	"trivia-pot/internal/seen"
	"trivia-pot/internal/settlement"
	"trivia-pot/internal/tui"

	dbpkg "trivia-pot/internal/db"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	logFileName        = "triviabot.log"
	statusChannelSize  = 16
	reconcileTimeout   = 2 * time.Minute
	shutdownGraceDelay = 100 * time.Millisecond
)

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	// With the dashboard on, logs go to a file so they do not tear the screen.
	var logWriter io.Writer = os.Stderr
	if cfg.TUI {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			defer logFile.Close()
			logWriter = logFile
			fmt.Fprintf(os.Stderr, "Logs written to %s\n", logFileName)
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file, logs will go to stderr (may interfere with TUI): %v\n", err)
		}
	}
	log := logger.NewWithWriter(cfg.Debug, logWriter)
	log.Info("trivia bot starting", "config", cfg.DebugString())

	if err := run(cfg, log); err != nil {
		log.Error("trivia bot stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shut down cleanly")
}

func run(cfg config.Config, log logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if gormDB != nil {
		log.Info("DB connected")
		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info("Migrations applied")
	} else {
		log.Info("DATABASE_URL not provided, using files for persistence")
	}

	cache, closeCache, err := openSeenCache(ctx, cfg, gormDB, log)
	if err != nil {
		return err
	}
	defer closeCache()

	journal, err := openJournal(cfg, gormDB)
	if err != nil {
		return err
	}

	chain, err := ledger.NewSolana(cfg.SolanaRPCURL, cfg.WalletPrivateKey, cfg.RPCTimeout)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	if err := chain.CheckWallet(cfg.ReceivingAddress); err != nil {
		return err
	}
	log.Info("payout wallet loaded", "address", chain.WalletAddress())

	settler := settlement.NewSettler(chain, journal, settlement.WithLogger(log.With("module", "settlement")))
	reconcileCtx, cancelReconcile := context.WithTimeout(ctx, reconcileTimeout)
	resolved, err := settler.Reconcile(reconcileCtx)
	cancelReconcile()
	if err != nil {
		// Unresolved entries stay in the journal and still block a second transfer.
		log.Error("payout reconciliation incomplete", "err", err)
	}
	if len(resolved) > 0 {
		log.Info("payouts reconciled", "count", len(resolved))
	}

	gemini, err := oracle.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log.With("module", "oracle"))
	if err != nil {
		return fmt.Errorf("init oracle: %w", err)
	}
	defer gemini.Close()

	bot, err := chat.NewTelegram(cfg.TelegramToken, cfg.ChatID, log.With("module", "telegram"))
	if err != nil {
		return err
	}

	scanner := discovery.NewScanner(chain, cache, cfg.ReceivingAddress, cfg.MinEntryLamports,
		discovery.WithLogger(log.With("module", "discovery")))

	var updates chan round.Status
	if cfg.TUI {
		updates = make(chan round.Status, statusChannelSize)
	}

	engine := round.NewEngine(round.Settings{
		ChatID:     cfg.ChatID,
		AdminID:    cfg.AdminID,
		PotAddress: cfg.ReceivingAddress,
		MinEntry:   cfg.MinEntryLamports,
		FeeReserve: cfg.FeeReserve,
		Timings:    round.DefaultTimings(),
	}, round.Deps{
		Chat:      bot,
		Oracle:    gemini,
		Discovery: scanner,
		Balances:  chain,
		Settler:   settler,
		Log:       log.With("module", "round"),
		Updates:   updates,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})
	if err := engine.Start(); err != nil {
		return fmt.Errorf("start round engine: %w", err)
	}
	if updates != nil {
		g.Go(func() error {
			err := tui.Run(gctx, cfg.ReceivingAddress, updates)
			// Leaving the dashboard stops the bot.
			cancel()
			return err
		})
	}

	<-gctx.Done()
	log.Info("shutting down...")
	if err := engine.Stop(); err != nil {
		log.Error("stop round engine", "err", err)
	}
	cancel()
	err = g.Wait()

	// Give the dashboard a moment to restore the terminal.
	time.Sleep(shutdownGraceDelay)
	return err
}

// openSeenCache picks the signature store: redis, then postgres, then the
// plain-text log.
func openSeenCache(ctx context.Context, cfg config.Config, gormDB *gorm.DB, log logger.Logger) (seen.Cache, func(), error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("signature cache in redis")
		return seen.NewRedisLog(rdb), func() { _ = rdb.Close() }, nil
	}
	if gormDB != nil {
		log.Info("signature cache in database")
		return seen.NewGormLog(gormDB), func() {}, nil
	}
	fileLog, err := seen.OpenFileLog(cfg.SeenLogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open signature log: %w", err)
	}
	log.Info("signature cache in file", "path", cfg.SeenLogPath, "entries", fileLog.Len())
	return fileLog, func() {}, nil
}

func openJournal(cfg config.Config, gormDB *gorm.DB) (settlement.Journal, error) {
	if gormDB != nil {
		return settlement.NewGormJournal(gormDB), nil
	}
	j, err := settlement.OpenFileJournal(cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open payout journal: %w", err)
	}
	return j, nil
}
