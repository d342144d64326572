package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TaskKind enumerates the closed set of replayable task kinds.
type TaskKind uint8

const (
	TaskNoOp              TaskKind = 0
	TaskUpdateBestPrice   TaskKind = 1
	TaskPartialFill       TaskKind = 2
	TaskCompleteFill      TaskKind = 3
	TaskProcessWithdrawal TaskKind = 4
)

func (k TaskKind) String() string {
	switch k {
	case TaskNoOp:
		return "noop"
	case TaskUpdateBestPrice:
		return "update_best_price"
	case TaskPartialFill:
		return "partial_fill"
	case TaskCompleteFill:
		return "complete_fill"
	case TaskProcessWithdrawal:
		return "process_withdrawal"
	default:
		return fmt.Sprintf("task_kind(%d)", uint8(k))
	}
}

// OrderIntent describes one side of a fill: an incoming order or the
// replacement best order carried by a complete fill.
type OrderIntent struct {
	User         common.Address `json:"user"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Dir          Direction      `json:"direction"`
	Tick         int32          `json:"tick"`
	InputAmount  *big.Int       `json:"input_amount"`
	OutputAmount *big.Int       `json:"output_amount"`
	Rounding     TickRounding   `json:"rounding"`
}

// UpdateBestPrice advances the best-order record and the price ladder
// together for one pair and direction.
type UpdateBestPrice struct {
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Dir          Direction      `json:"direction"`
	Tick         int32          `json:"tick"`
	InputAmount  *big.Int       `json:"input_amount"`
	OutputAmount *big.Int       `json:"output_amount"`
	User         common.Address `json:"user"`
	Rounding     TickRounding   `json:"rounding"`
}

// PartialFill exchanges part of the resting best order against an incoming
// order. Rejected when the fill exceeds the record's remaining input.
type PartialFill struct {
	Incoming    OrderIntent `json:"incoming"`
	FillAmount0 *big.Int    `json:"fill_amount0"`
	FillAmount1 *big.Int    `json:"fill_amount1"`
}

// CompleteFill consumes the resting best order entirely and installs the
// replacement, or clears the record when the replacement user is zero.
type CompleteFill struct {
	Incoming    OrderIntent `json:"incoming"`
	FillAmount0 *big.Int    `json:"fill_amount0"`
	FillAmount1 *big.Int    `json:"fill_amount1"`
	NextBest    OrderIntent `json:"next_best"`
}

// ProcessWithdrawal pays out escrowed funds through the task pipeline.
type ProcessWithdrawal struct {
	User   common.Address `json:"user"`
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// Task is one externally validated instruction. Exactly one payload field is
// set, matching Kind. Proof metadata passes through unvalidated.
type Task struct {
	Index    uint64   `json:"index"`
	Kind     TaskKind `json:"kind"`
	Approved bool     `json:"approved"`
	Proof    []byte   `json:"proof,omitempty"`

	UpdateBestPrice   *UpdateBestPrice   `json:"update_best_price,omitempty"`
	PartialFill       *PartialFill       `json:"partial_fill,omitempty"`
	CompleteFill      *CompleteFill      `json:"complete_fill,omitempty"`
	ProcessWithdrawal *ProcessWithdrawal `json:"process_withdrawal,omitempty"`
}

// TaskResult is the journal row recorded for every processed task.
type TaskResult struct {
	Index       uint64 `json:"index"`
	Kind        string `json:"kind"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ProcessedAt string `json:"processed_at"`
}

// BalanceSnapshot is one escrow balance row for persistence.
type BalanceSnapshot struct {
	User    common.Address `json:"user"`
	Token   common.Address `json:"token"`
	Balance *big.Int       `json:"balance"`
}
