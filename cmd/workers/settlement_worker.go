package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fieldproof/verification-engine/verification-backend/internal/config"
	"fieldproof/verification-engine/verification-backend/internal/settlement"
	"fieldproof/verification-engine/verification-backend/internal/tasks"
)

// SettlementWorker periodically re-submits settlement records the external
// ledger never acknowledged. A confirmed record also advances the owning task
// to PAID, the same hook the API process uses.
type SettlementWorker struct {
	trigger   settlement.Trigger
	batchSize int
	logger    *zap.Logger
}

func NewSettlementWorker(trigger settlement.Trigger, batchSize int, logger *zap.Logger) *SettlementWorker {
	return &SettlementWorker{
		trigger:   trigger,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Sweep runs one retry pass over pending records
func (w *SettlementWorker) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	confirmed, err := w.trigger.RetryPending(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("Settlement sweep failed", zap.Error(err))
		return
	}
	if confirmed > 0 {
		w.logger.Info("Settlement sweep confirmed records", zap.Int("confirmed", confirmed))
	}
}

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}
	logger.Info("Connected to database")

	taskRepo := tasks.NewRepository(db)
	taskService := tasks.NewService(taskRepo, cfg.Quorum.DefaultRequiredApprovals, nil, logger)

	ledgerClient := settlement.NewHTTPLedgerClient(cfg.Settlement.LedgerURL, cfg.Settlement.RequestTimeout)
	settlementRepo := settlement.NewRepository(db)
	onConfirmed := func(ctx context.Context, record *settlement.Record) {
		milestone, err := taskService.GetMilestone(ctx, record.MilestoneID)
		if err != nil {
			logger.Error("Failed to resolve milestone for paid transition",
				zap.String("milestone_id", record.MilestoneID.String()), zap.Error(err))
			return
		}
		if err := taskService.MarkPaid(ctx, milestone.TaskID); err != nil {
			logger.Warn("Task paid transition failed",
				zap.String("task_id", milestone.TaskID.String()), zap.Error(err))
		}
	}
	trigger := settlement.NewTrigger(settlementRepo, ledgerClient, onConfirmed, logger)

	worker := NewSettlementWorker(trigger, cfg.Settlement.SweepBatchSize, logger)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Settlement.SweepSchedule, worker.Sweep); err != nil {
		logger.Fatal("Invalid sweep schedule",
			zap.String("schedule", cfg.Settlement.SweepSchedule), zap.Error(err))
	}

	// Catch up immediately on start, then follow the schedule
	worker.Sweep()
	scheduler.Start()
	logger.Info("Settlement worker started",
		zap.String("schedule", cfg.Settlement.SweepSchedule),
		zap.Int("batch_size", cfg.Settlement.SweepBatchSize))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	ctx := scheduler.Stop()
	<-ctx.Done()
	logger.Info("Settlement worker stopped")
}
