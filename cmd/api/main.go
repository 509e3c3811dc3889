package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fieldproof/verification-engine/verification-backend/internal/audit"
	"fieldproof/verification-engine/verification-backend/internal/auth"
	"fieldproof/verification-engine/verification-backend/internal/config"
	"fieldproof/verification-engine/verification-backend/internal/evidence"
	"fieldproof/verification-engine/verification-backend/internal/quorum"
	"fieldproof/verification-engine/verification-backend/internal/screening"
	"fieldproof/verification-engine/verification-backend/internal/settlement"
	"fieldproof/verification-engine/verification-backend/internal/tasks"
	"fieldproof/verification-engine/verification-backend/internal/verification"
	"fieldproof/verification-engine/verification-backend/pkg/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	dbURL := cfg.Database.GetDatabaseURL()
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	gormDB, err := gorm.Open(gormpostgres.Open(dbURL), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to open gorm connection", zap.Error(err))
	}

	auditService, err := audit.NewService(gormDB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize audit service", zap.Error(err))
	}

	objectStore, err := storage.NewS3ObjectStore(context.Background(), cfg.Evidence.Bucket, cfg.Evidence.Region)
	if err != nil {
		logger.Fatal("Failed to initialize object store", zap.Error(err))
	}

	// ---------------- Tasks ----------------
	taskRepo := tasks.NewRepository(db)
	taskService := tasks.NewService(taskRepo, cfg.Quorum.DefaultRequiredApprovals, auditService, logger)
	taskHandler := tasks.NewHandler(taskService)

	// ---------------- Evidence ----------------
	evidenceRepo := evidence.NewRepository(db)
	evidenceStore := evidence.NewStore(evidenceRepo, logger)

	// ---------------- Screening ----------------
	oracleClient := screening.NewHTTPOracleClient(cfg.Oracle.BaseURL, cfg.Oracle.RequestTimeout)
	screeningAdapter := screening.NewAdapter(oracleClient, evidenceStore, screening.Policy{
		MaxRetries:    cfg.Oracle.MaxRetries,
		TotalBudget:   cfg.Oracle.TotalBudget,
		BaseBackoff:   2 * time.Second,
		HighThreshold: cfg.Oracle.HighThreshold,
		LowThreshold:  cfg.Oracle.LowThreshold,
	}, logger)

	// ---------------- Quorum ----------------
	quorumRepo := quorum.NewRepository(db)
	quorumLedger := quorum.NewLedger(quorumRepo, evidenceStore, logger)

	// ---------------- Settlement ----------------
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
			return
		}
		auditService.Record(ctx, audit.EventSettlementConfirmed, &record.ProofID, &milestone.TaskID, nil,
			map[string]interface{}{"ledger_reference": record.LedgerReference})
	}
	settlementTrigger := settlement.NewTrigger(settlementRepo, ledgerClient, onConfirmed, logger)

	// ---------------- Verification ----------------
	verificationService := verification.NewService(
		evidenceStore, screeningAdapter, quorumLedger, settlementTrigger, taskService, auditService, logger)
	verificationHandler := verification.NewHandler(verificationService, objectStore, cfg.Evidence.UploadExpiry)

	auditHandler := audit.NewHandler(auditService)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	api.Use(auth.Middleware(cfg.Security.JWTSecret))
	{
		taskHandler.RegisterRoutes(api)
		verificationHandler.RegisterRoutes(api)
		auditHandler.RegisterRoutes(api)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	logger.Info("Verification engine started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func newLogger(level string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
