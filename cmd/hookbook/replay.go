package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hookbook/internal/amm"
	"hookbook/internal/bank"
	"hookbook/internal/config"
	"hookbook/internal/engine"
	"hookbook/internal/events"
	"hookbook/internal/model"
	"hookbook/internal/replay"
	"hookbook/internal/storage"
	"hookbook/internal/storage/postgres"
)

// Default custody accounts used when none are configured. These are engine
// bookkeeping identities, not real keys.
const (
	defaultEscrowCustody = "0x0000000000000000000000000000000000000e5c"
	defaultLadderCustody = "0x00000000000000000000000000000000000001ad"
	defaultPoolReserve   = "0x0000000000000000000000000000000000000fee"
)

// poolDef describes one pool the replayed tasks may reference.
type poolDef struct {
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         uint32 `json:"fee"`
	TickSpacing int32  `json:"tick_spacing"`
	Hook        string `json:"hook,omitempty"`
	Tick        int32  `json:"tick"`
	PriceNum    int64  `json:"price_num"`
	PriceDen    int64  `json:"price_den"`
}

// genesisEntry seeds one external balance, optionally deposited into escrow.
type genesisEntry struct {
	User   string   `json:"user"`
	Token  string   `json:"token"`
	Amount *big.Int `json:"amount"`
	Escrow bool     `json:"escrow,omitempty"`
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Tasks == "" {
		return fmt.Errorf("tasks file is required")
	}
	if cfg.Pools == "" {
		return fmt.Errorf("pools file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vault := bank.NewVault()
	pool := amm.NewSimPool(vault, common.HexToAddress(defaultPoolReserve))

	eventSink := storage.NewJsonlStorage(cfg.EventsOut)
	sinkEmitter := events.NewSinkEmitter(eventSink, logger)
	defer sinkEmitter.Flush()
	emitter := events.MultiEmitter{events.NewLogEmitter(logger), sinkEmitter}

	eng := engine.New(engine.Config{
		Bank:          vault,
		Pool:          pool,
		EscrowCustody: parseAddressOr(defaultEscrowCustody, cfg.EscrowCustody),
		LadderCustody: parseAddressOr(defaultLadderCustody, cfg.LadderCustody),
		Emitter:       emitter,
		Logger:        logger,
	})

	if err := loadPools(cfg.Pools, vault, pool, eng); err != nil {
		return err
	}
	if cfg.Genesis != "" {
		if err := loadGenesis(ctx, cfg.Genesis, vault, eng); err != nil {
			return err
		}
	}

	sinks := []storage.ResultSink{storage.NewJsonlStorage(cfg.ResultsOut)}
	var resumeAfter uint64

	var pgStore *postgres.Store
	if cfg.PGDSN != "" {
		pgStore, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()

		idx, ok, err := pgStore.LoadState(ctx, cfg.StateName)
		if err != nil {
			return fmt.Errorf("load replay state: %w", err)
		}
		if ok {
			resumeAfter = idx
			logger.Info("resume from postgres state", zap.Uint64("last_task_index", idx))
		}
		sinks = append(sinks, &pgResultSink{ctx: ctx, store: pgStore})
	}

	runner := replay.NewRunner(replay.RunConfig{
		TasksPath:         cfg.Tasks,
		BatchSize:         cfg.BatchSize,
		ResumeAfter:       resumeAfter,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, eng, multiResultSink(sinks), logger)

	logger.Info("replay start",
		zap.String("tasks", cfg.Tasks),
		zap.String("pools", cfg.Pools),
		zap.Int("batch_size", cfg.BatchSize),
		zap.String("results_out", cfg.ResultsOut),
		zap.Bool("postgres", pgStore != nil),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
	)

	if err := runner.Run(ctx); err != nil {
		return err
	}
	sinkEmitter.Flush()

	if pgStore != nil {
		if err := pgStore.UpsertBalances(ctx, eng.Snapshot()); err != nil {
			return fmt.Errorf("snapshot balances: %w", err)
		}
		cp, ok, err := replay.NewCheckpointStore(cfg.Checkpoint, cfg.CheckpointEnabled).Load()
		if err != nil {
			return err
		}
		if ok {
			if err := pgStore.SaveState(ctx, cfg.StateName, cp.LastTaskIndex); err != nil {
				return fmt.Errorf("save replay state: %w", err)
			}
		}
	}

	return nil
}

func loadPools(path string, vault *bank.Vault, pool *amm.SimPool, eng *engine.Engine) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pools file: %w", err)
	}
	var defs []poolDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("parse pools file: %w", err)
	}

	// Deep reserves on both sides so the sim pool can always quote.
	reserve := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

	for i, def := range defs {
		key := model.PoolKey{
			Token0:      common.HexToAddress(def.Token0),
			Token1:      common.HexToAddress(def.Token1),
			Fee:         def.Fee,
			TickSpacing: def.TickSpacing,
			Hook:        common.HexToAddress(def.Hook),
		}
		num, den := def.PriceNum, def.PriceDen
		if num == 0 {
			num = 1
		}
		if den == 0 {
			den = 1
		}
		if err := pool.AddPool(key, def.Tick, big.NewInt(num), big.NewInt(den)); err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		eng.RegisterPool(key)
		vault.Mint(key.Token0, pool.Reserve(), reserve)
		vault.Mint(key.Token1, pool.Reserve(), reserve)
	}
	return nil
}

func loadGenesis(ctx context.Context, path string, vault *bank.Vault, eng *engine.Engine) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read genesis file: %w", err)
	}
	var entries []genesisEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse genesis file: %w", err)
	}

	for i, entry := range entries {
		if entry.Amount == nil || entry.Amount.Sign() <= 0 {
			return fmt.Errorf("genesis entry %d: amount must be positive", i)
		}
		user := common.HexToAddress(entry.User)
		token := common.HexToAddress(entry.Token)
		vault.Mint(token, user, entry.Amount)
		if entry.Escrow {
			if err := eng.Deposit(ctx, user, token, entry.Amount); err != nil {
				return fmt.Errorf("genesis entry %d: %w", i, err)
			}
		}
	}
	return nil
}

func parseAddressOr(fallback, value string) common.Address {
	if value == "" {
		return common.HexToAddress(fallback)
	}
	return common.HexToAddress(value)
}

// pgResultSink adapts the Postgres store to the context-free sink interface.
type pgResultSink struct {
	ctx   context.Context
	store *postgres.Store
}

func (s *pgResultSink) PutResultBatch(results []model.TaskResult) error {
	return s.store.InsertTaskResults(s.ctx, results)
}

// multiResultSink fans a result batch out to every sink.
type multiResultSink []storage.ResultSink

func (m multiResultSink) PutResultBatch(results []model.TaskResult) error {
	for _, sink := range m {
		if err := sink.PutResultBatch(results); err != nil {
			return err
		}
	}
	return nil
}
