package main

import (
	"bufio"
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
	"hookbook/internal/chain"
	"hookbook/internal/config"
	"hookbook/internal/engine"
	"hookbook/internal/events"
	"hookbook/internal/model"
	"hookbook/internal/storage"
)

// bookOrder is one resting order seeded before the swap stream runs.
type bookOrder struct {
	User      string   `json:"user"`
	Tick      int32    `json:"tick"`
	Direction string   `json:"direction"`
	Amount    *big.Int `json:"amount"`
	MinOutput *big.Int `json:"min_output"`
	Rounding  string   `json:"rounding,omitempty"`
}

// swapOrder is one trade streamed through the interception hooks.
type swapOrder struct {
	Trader    string   `json:"trader"`
	Direction string   `json:"direction"`
	AmountIn  *big.Int `json:"amount_in"`
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key, tick, err := resolvePool(ctx, cfg, logger)
	if err != nil {
		return err
	}

	vault := bank.NewVault()
	pool := amm.NewSimPool(vault, common.HexToAddress(defaultPoolReserve))
	if err := pool.AddPool(key, tick, big.NewInt(cfg.PriceNum), big.NewInt(cfg.PriceDen)); err != nil {
		return err
	}
	reserve := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	vault.Mint(key.Token0, pool.Reserve(), reserve)
	vault.Mint(key.Token1, pool.Reserve(), reserve)

	eventSink := storage.NewJsonlStorage(cfg.EventsOut)
	sinkEmitter := events.NewSinkEmitter(eventSink, logger)
	defer sinkEmitter.Flush()

	eng := engine.New(engine.Config{
		Bank:          vault,
		Pool:          pool,
		EscrowCustody: common.HexToAddress(defaultEscrowCustody),
		LadderCustody: common.HexToAddress(defaultLadderCustody),
		Emitter:       events.MultiEmitter{events.NewLogEmitter(logger), sinkEmitter},
		Logger:        logger,
	})
	poolID := eng.RegisterPool(key)

	logger.Info("simulation start",
		zap.String("pool", poolID.Hex()),
		zap.Int32("tick", tick),
		zap.Int64("price_num", cfg.PriceNum),
		zap.Int64("price_den", cfg.PriceDen),
	)

	if cfg.Book != "" {
		if err := seedBook(ctx, cfg.Book, vault, eng, key); err != nil {
			return err
		}
	}
	if cfg.Swaps != "" {
		if err := streamSwaps(ctx, cfg.Swaps, vault, eng, key, poolID, logger); err != nil {
			return err
		}
	}

	for _, row := range eng.Snapshot() {
		logger.Info("final escrow balance",
			zap.String("user", row.User.Hex()),
			zap.String("token", row.Token.Hex()),
			zap.String("balance", row.Balance.String()),
		)
	}
	return nil
}

// resolvePool builds the pool key from flags, or reads it from a live pool
// over eth_call when an RPC endpoint is configured.
func resolvePool(ctx context.Context, cfg config.SimulateConfig, logger *zap.Logger) (model.PoolKey, int32, error) {
	if cfg.RPCURL != "" && cfg.Pool != "" {
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return model.PoolKey{}, 0, fmt.Errorf("connect rpc: %w", err)
		}
		defer client.Close()

		state, err := amm.FetchPoolState(ctx, client, common.HexToAddress(cfg.Pool), common.HexToAddress(cfg.Hook))
		if err != nil {
			return model.PoolKey{}, 0, fmt.Errorf("fetch pool state: %w", err)
		}
		logger.Info("pool state fetched",
			zap.String("pool", cfg.Pool),
			zap.Int32("tick", state.Tick),
			zap.String("sqrt_price_x96", state.SqrtPriceX96.String()),
		)
		return state.Key, state.Tick, nil
	}

	if cfg.Token0 == "" || cfg.Token1 == "" {
		return model.PoolKey{}, 0, fmt.Errorf("token0 and token1 are required without --rpc")
	}
	key := model.PoolKey{
		Token0:      common.HexToAddress(cfg.Token0),
		Token1:      common.HexToAddress(cfg.Token1),
		Fee:         cfg.Fee,
		TickSpacing: cfg.TickSpacing,
		Hook:        common.HexToAddress(cfg.Hook),
	}
	return key, cfg.Tick, nil
}

// seedBook funds each order's user and submits it through the task pipeline
// so both the ladder and the best-order record see it.
func seedBook(ctx context.Context, path string, vault *bank.Vault, eng *engine.Engine, key model.PoolKey) error {
	var index uint64
	return eachLine(path, func(lineNo int, line []byte) error {
		var order bookOrder
		if err := json.Unmarshal(line, &order); err != nil {
			return fmt.Errorf("parse book order at line %d: %w", lineNo, err)
		}
		dir, err := parseDirection(order.Direction)
		if err != nil {
			return fmt.Errorf("book order at line %d: %w", lineNo, err)
		}
		if order.Amount == nil || order.Amount.Sign() <= 0 {
			return fmt.Errorf("book order at line %d: amount must be positive", lineNo)
		}
		minOut := order.MinOutput
		if minOut == nil || minOut.Sign() <= 0 {
			minOut = order.Amount
		}

		user := common.HexToAddress(order.User)
		inToken := key.InputToken(dir)
		// One helping for the ladder pull, one for the escrow side.
		vault.Mint(inToken, user, order.Amount)
		vault.Mint(inToken, user, order.Amount)
		if err := eng.Deposit(ctx, user, inToken, order.Amount); err != nil {
			return fmt.Errorf("book order at line %d: %w", lineNo, err)
		}

		index++
		return eng.SubmitTask(ctx, model.Task{
			Index: index, Kind: model.TaskUpdateBestPrice, Approved: true,
			UpdateBestPrice: &model.UpdateBestPrice{
				Token0: key.Token0, Token1: key.Token1, Dir: dir,
				Tick: order.Tick, InputAmount: order.Amount, OutputAmount: minOut,
				User: user, Rounding: parseRounding(order.Rounding),
			},
		})
	})
}

func streamSwaps(ctx context.Context, path string, vault *bank.Vault, eng *engine.Engine, key model.PoolKey, poolID common.Hash, logger *zap.Logger) error {
	return eachLine(path, func(lineNo int, line []byte) error {
		var swap swapOrder
		if err := json.Unmarshal(line, &swap); err != nil {
			return fmt.Errorf("parse swap at line %d: %w", lineNo, err)
		}
		dir, err := parseDirection(swap.Direction)
		if err != nil {
			return fmt.Errorf("swap at line %d: %w", lineNo, err)
		}
		if swap.AmountIn == nil || swap.AmountIn.Sign() <= 0 {
			return fmt.Errorf("swap at line %d: amount_in must be positive", lineNo)
		}

		trader := common.HexToAddress(swap.Trader)
		vault.Mint(key.InputToken(dir), trader, swap.AmountIn)

		amountIn, amountOut, err := eng.Swap(ctx, poolID, dir, swap.AmountIn, trader)
		if err != nil {
			return fmt.Errorf("swap at line %d: %w", lineNo, err)
		}
		logger.Info("swap complete",
			zap.Int("line", lineNo),
			zap.String("trader", trader.Hex()),
			zap.String("direction", dir.String()),
			zap.String("amount_in", amountIn.String()),
			zap.String("amount_out", amountOut.String()),
		)
		return nil
	})
}

func eachLine(path string, fn func(lineNo int, line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var lineNo int
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func parseDirection(value string) (model.Direction, error) {
	switch value {
	case "sell_token0", "0":
		return model.SellToken0, nil
	case "sell_token1", "1":
		return model.SellToken1, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", value)
	}
}

func parseRounding(value string) model.TickRounding {
	if value == "up" {
		return model.RoundUp
	}
	return model.RoundDown
}
