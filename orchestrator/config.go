package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/verity-protocol/bridge-go/agreement"
)

type Config struct {
	// Accepted amount range, inclusive
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal

	// Fee parameters keyed by destination chain
	BaseFee map[agreement.Chain]decimal.Decimal
	PctFee  map[agreement.Chain]decimal.Decimal

	SupportedChains map[agreement.Chain]bool

	// Loop's main interval
	SweepInterval time.Duration

	// Whole-transfer time budget; a non-terminal transfer older than this
	// is considered stuck
	TransferTimeout time.Duration

	// Recovery attempts before a stuck transfer is marked FAILED
	MaxRetries int

	// Returned to callers as the settlement estimate
	EstimatedCompletion time.Duration

	// Completed transfers feeding the rolling average latency
	StatsWindow int

	// Max transfers promoted/recovered per sweep
	BatchSize int
}

func DefaultConfig() *Config {
	return &Config{
		MinAmount: decimal.NewFromInt(10),
		MaxAmount: decimal.NewFromInt(1_000_000),
		BaseFee: map[agreement.Chain]decimal.Decimal{
			agreement.ChainXRPL:   decimal.RequireFromString("0.2"),
			agreement.ChainSolana: decimal.RequireFromString("0.1"),
		},
		PctFee: map[agreement.Chain]decimal.Decimal{
			agreement.ChainXRPL:   decimal.RequireFromString("0.001"),
			agreement.ChainSolana: decimal.RequireFromString("0.001"),
		},
		SupportedChains: map[agreement.Chain]bool{
			agreement.ChainXRPL:   true,
			agreement.ChainSolana: true,
		},
		SweepInterval:       time.Minute,
		TransferTimeout:     10 * time.Minute,
		MaxRetries:          3,
		EstimatedCompletion: 5 * time.Minute,
		StatsWindow:         100,
		BatchSize:           50,
	}
}
