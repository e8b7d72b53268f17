package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"loyalty-engine/internal/blockchain"
	"loyalty-engine/internal/checkpoint"
	"loyalty-engine/internal/config"
	"loyalty-engine/internal/lock"
	"loyalty-engine/internal/multicall"
	"loyalty-engine/internal/nodepool"
	"loyalty-engine/internal/repository"
	"loyalty-engine/internal/scheduler"
	"loyalty-engine/internal/service"
	"loyalty-engine/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := initDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}
	defer closeDatabase(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal("Failed to connect to redis:", err)
	}
	pingCancel()

	eventRepo := repository.NewEventRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db, cfg.Points.DefaultRefPct)

	pool := nodepool.New(rdb, cfg.Chains)
	checkpoints := checkpoint.New(rdb)
	locker := lock.New(rdb)
	queue := scheduler.NewQueue(rdb)

	aggregators := make(map[uint64]common.Address)
	for _, chain := range cfg.GetEnabledChains() {
		if chain.MulticallAddress != "" {
			aggregators[chain.ChainID] = common.HexToAddress(chain.MulticallAddress)
		}
	}
	batchCaller := multicall.NewCaller(pool, aggregators)

	pointsSvc := service.NewPointsService(ledgerRepo)
	creditSvc := service.NewCreditService(cfg, pointsSvc)
	stakingSvc := service.NewStakingService(cfg, locker, pointsSvc, eventRepo, batchCaller, queue)

	sched := scheduler.New(queue)

	tickSpec := fmt.Sprintf("@every %ds", cfg.Scanner.TickSeconds)
	for _, chain := range cfg.GetEnabledChains() {
		for _, scope := range chain.Scopes {
			scanner := blockchain.NewScanner(chain.ChainID, scope, pool, checkpoints, eventRepo, queue, cfg.Scanner)
			name := fmt.Sprintf("scan:%d:%s", chain.ChainID, scope.Key)
			sched.AddTick(tickSpec, name, scanner.Tick)
		}
	}
	sched.AddTick("0 0 0 * * *", "staking_sweep", stakingSvc.RunDailySweeps)

	sched.AddConsumer(scheduler.JobCreditPurchase, "purchase", 4, creditSvc.HandlePurchase)
	sched.AddConsumer(scheduler.JobCreditStake, "stake", 2, creditSvc.HandleStake)
	sched.AddConsumer(scheduler.JobRegister, "register", 2, creditSvc.HandleRegistration)
	sched.AddConsumer(scheduler.JobStakingSweep, "sweep", 1, stakingSvc.HandleSweep)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler:", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()
	sched.Stop()
	logger.Info("Stopped")
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	return db, nil
}

func closeDatabase(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Failed to get database instance:", err)
		return
	}
	sqlDB.Close()
}
