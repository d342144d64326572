package config

import (
	"github.com/spf13/pflag"
)

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	RPCURL      string
	Pool        string
	Hook        string
	Token0      string
	Token1      string
	Fee         uint32
	TickSpacing int32
	Tick        int32
	PriceNum    int64
	PriceDen    int64
	Book        string
	Swaps       string
	EventsOut   string
	LogLevel    string
}

// LoadSimulate merges config file, environment variables, and flags into
// SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v := newViper()

	v.SetDefault("fee", 3000)
	v.SetDefault("tick-spacing", 60)
	v.SetDefault("price-num", 1)
	v.SetDefault("price-den", 1)
	v.SetDefault("events-out", "./data/sim_events.jsonl")
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return SimulateConfig{}, err
	}

	cfg := SimulateConfig{
		RPCURL:      v.GetString("rpc"),
		Pool:        v.GetString("pool"),
		Hook:        v.GetString("hook"),
		Token0:      v.GetString("token0"),
		Token1:      v.GetString("token1"),
		Fee:         v.GetUint32("fee"),
		TickSpacing: v.GetInt32("tick-spacing"),
		Tick:        v.GetInt32("tick"),
		PriceNum:    v.GetInt64("price-num"),
		PriceDen:    v.GetInt64("price-den"),
		Book:        v.GetString("book"),
		Swaps:       v.GetString("swaps"),
		EventsOut:   v.GetString("events-out"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}
