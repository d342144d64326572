package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BestOrderRecord mirrors the best resting order for a pair and direction.
// It is maintained by the task subsystem and can diverge from the ladder's
// best tick after quantization; the stored rounding mode recovers the
// execution tick.
type BestOrderRecord struct {
	User            common.Address `json:"user"`
	Tick            int32          `json:"tick"`
	RemainingInput  *big.Int       `json:"remaining_input"`
	RemainingOutput *big.Int       `json:"remaining_output"`
	Rounding        TickRounding   `json:"rounding"`
}

// IsZero reports whether the record is the cleared sentinel.
func (r BestOrderRecord) IsZero() bool {
	return r.User == (common.Address{})
}

// Clone returns a deep copy so callers cannot alias the stored amounts.
func (r BestOrderRecord) Clone() BestOrderRecord {
	out := r
	if r.RemainingInput != nil {
		out.RemainingInput = new(big.Int).Set(r.RemainingInput)
	}
	if r.RemainingOutput != nil {
		out.RemainingOutput = new(big.Int).Set(r.RemainingOutput)
	}
	return out
}
