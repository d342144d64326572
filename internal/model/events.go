package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event names used in EventRecord envelopes.
const (
	EventDeposit          = "Deposit"
	EventWithdraw         = "Withdraw"
	EventEscrowTransfer   = "EscrowTransfer"
	EventOrderPlaced      = "OrderPlaced"
	EventOrderCanceled    = "OrderCanceled"
	EventOrderExecuted    = "OrderExecuted"
	EventOrderRedeemed    = "OrderRedeemed"
	EventBestPriceUpdated = "BestPriceUpdated"
	EventTaskProcessed    = "TaskProcessed"
)

// Execution phases for OrderExecuted events.
const (
	PhasePreTrade  = "pre_trade"
	PhasePostTrade = "post_trade"
)

// EventRecord is the one-way observability envelope written to sinks.
type EventRecord struct {
	Sequence  uint64      `json:"sequence"`
	Name      string      `json:"name"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DepositEvent records an escrow deposit.
type DepositEvent struct {
	User   common.Address `json:"user"`
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// WithdrawEvent records an escrow withdrawal, user- or task-initiated.
type WithdrawEvent struct {
	User   common.Address `json:"user"`
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// EscrowTransferEvent records an internal escrow balance move.
type EscrowTransferEvent struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// OrderPlacedEvent records a resting order added to the ladder.
type OrderPlacedEvent struct {
	PoolID common.Hash    `json:"pool_id"`
	User   common.Address `json:"user"`
	Tick   int32          `json:"tick"`
	Dir    string         `json:"direction"`
	Amount *big.Int       `json:"amount"`
}

// OrderCanceledEvent records a resting order reduction by its owner.
type OrderCanceledEvent struct {
	PoolID common.Hash    `json:"pool_id"`
	User   common.Address `json:"user"`
	Tick   int32          `json:"tick"`
	Dir    string         `json:"direction"`
	Amount *big.Int       `json:"amount"`
}

// OrderExecutedEvent records a swap-triggered bucket execution.
type OrderExecutedEvent struct {
	PoolID    common.Hash `json:"pool_id"`
	Tick      int32       `json:"tick"`
	Dir       string      `json:"direction"`
	AmountIn  *big.Int    `json:"amount_in"`
	AmountOut *big.Int    `json:"amount_out"`
	Phase     string      `json:"phase"`
}

// OrderRedeemedEvent records a proportional claim payout.
type OrderRedeemedEvent struct {
	PoolID common.Hash    `json:"pool_id"`
	Owner  common.Address `json:"owner"`
	Tick   int32          `json:"tick"`
	Dir    string         `json:"direction"`
	Shares *big.Int       `json:"shares"`
	Payout *big.Int       `json:"payout"`
}

// BestPriceUpdatedEvent records a best-order record write or clear.
type BestPriceUpdatedEvent struct {
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`
	Dir     string         `json:"direction"`
	User    common.Address `json:"user"`
	Tick    int32          `json:"tick"`
	Cleared bool           `json:"cleared"`
}

// TaskProcessedEvent records the outcome of one replayed task.
type TaskProcessedEvent struct {
	Index   uint64 `json:"index"`
	Kind    string `json:"kind"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
