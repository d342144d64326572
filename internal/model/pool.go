package model

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Direction identifies which side of a pair is being sold.
type Direction uint8

const (
	// SellToken0 sells token0 for token1.
	SellToken0 Direction = 0
	// SellToken1 sells token1 for token0.
	SellToken1 Direction = 1
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == SellToken0 {
		return SellToken1
	}
	return SellToken0
}

func (d Direction) String() string {
	switch d {
	case SellToken0:
		return "sell_token0"
	case SellToken1:
		return "sell_token1"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Valid reports whether the direction is one of the two known values.
func (d Direction) Valid() bool {
	return d == SellToken0 || d == SellToken1
}

// TickRounding selects how a raw tick is quantized to the pool spacing.
type TickRounding uint8

const (
	// RoundDown quantizes toward negative infinity.
	RoundDown TickRounding = 0
	// RoundUp quantizes toward positive infinity.
	RoundUp TickRounding = 1
)

func (r TickRounding) String() string {
	if r == RoundUp {
		return "up"
	}
	return "down"
}

// QuantizeTick snaps a raw tick to the nearest valid multiple of spacing.
func QuantizeTick(raw int32, spacing int32, rounding TickRounding) int32 {
	if spacing <= 0 {
		return raw
	}
	q := raw / spacing
	rem := raw % spacing
	if rem != 0 {
		switch rounding {
		case RoundUp:
			if raw > 0 {
				q++
			}
		default:
			if raw < 0 {
				q--
			}
		}
	}
	return q * spacing
}

// PoolKey identifies an AMM pool by pair, fee tier, tick spacing, and hook.
type PoolKey struct {
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Fee         uint32         `json:"fee"`
	TickSpacing int32          `json:"tick_spacing"`
	Hook        common.Address `json:"hook"`
}

// ID derives the opaque pool identifier from the key fields.
func (k PoolKey) ID() common.Hash {
	buf := make([]byte, 0, 20+20+4+4+20)
	buf = append(buf, k.Token0.Bytes()...)
	buf = append(buf, k.Token1.Bytes()...)

	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], k.Fee)
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint32(scratch[:], uint32(k.TickSpacing))
	buf = append(buf, scratch[:]...)

	buf = append(buf, k.Hook.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// InputToken returns the token pulled from the seller for the direction.
func (k PoolKey) InputToken(dir Direction) common.Address {
	if dir == SellToken0 {
		return k.Token0
	}
	return k.Token1
}

// OutputToken returns the token paid out to the seller for the direction.
func (k PoolKey) OutputToken(dir Direction) common.Address {
	if dir == SellToken0 {
		return k.Token1
	}
	return k.Token0
}

// PairKey addresses a best-order record by pair and direction.
type PairKey struct {
	Token0 common.Address
	Token1 common.Address
	Dir    Direction
}
