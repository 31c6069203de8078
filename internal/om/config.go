// Package om implements the observation/memory (OM) pipeline: configuration
// resolution, the pure per-message decision functions, the Observer and
// Reflector stages, and their CAS-guarded writes against the state store.
package om

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/axiomme/axiomme/pkg/types"
)

const (
	defaultMessageTokensBase   = 1200
	defaultTotalBudget         = 70000
	defaultMaxTokensPerBatch   = 8192
	defaultBufferActivation    = 0.8
	defaultReflectionTokens    = 6000
	defaultReflectorActivation = 0.8
	maxTokensPerBatchEnv       = "AXIOMME_OM_MAX_TOKENS_PER_BATCH"
	bufferTokensEnv            = "AXIOMME_OM_BUFFER_TOKENS"
)

// BufferTokens is observation.buffer_tokens: either an absolute count (a
// ratio input is resolved against message_tokens_base into Absolute), or
// Disabled (async buffering off).
type BufferTokens struct {
	Disabled bool
	Absolute int
}

// ObservationConfigInput is the caller-supplied override set for 4.F.1.
type ObservationConfigInput struct {
	MessageTokens     *int
	MaxTokensPerBatch *int
	BufferTokens      *BufferTokensInput
	BufferActivation  *float64
	BlockAfter        *int
}

// BufferTokensInput lets callers express buffer_tokens as absolute, ratio,
// or disabled.
type BufferTokensInput struct {
	Disabled bool
	Absolute *int
	Ratio    *float64
}

// ReflectionConfigInput is the caller-supplied override set for reflection.
type ReflectionConfigInput struct {
	ObservationTokens *int
	BufferActivation  *float64
	BlockAfter        *int
}

// ObservationConfig is the resolved observation-side configuration.
type ObservationConfig struct {
	MessageTokensBase int
	TotalBudget       *int
	MaxTokensPerBatch int
	BufferTokens      BufferTokens
	BufferActivation  float64
	BlockAfter        *int
}

// ReflectionConfig is the resolved reflection-side configuration.
type ReflectionConfig struct {
	ObservationTokens int
	BufferActivation  float64
	BlockAfter        *int
}

// ResolvedConfig is the full 4.F.1 output for one scope.
type ResolvedConfig struct {
	Observation            ObservationConfig
	Reflection             ReflectionConfig
	AsyncBufferingDisabled bool
}

// ResolveConfig applies defaults and overrides, enforcing the validation
// rules in 4.F.1. All failures are VALIDATION_FAILED errors.
func ResolveConfig(scope types.Scope, shareTokenBudget bool, obsIn ObservationConfigInput, reflIn ReflectionConfigInput) (*ResolvedConfig, error) {
	messageTokensBase := defaultMessageTokensBase
	if obsIn.MessageTokens != nil {
		messageTokensBase = *obsIn.MessageTokens
	}

	maxTokensPerBatch := defaultMaxTokensPerBatch
	if v, ok := os.LookupEnv(maxTokensPerBatchEnv); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("VALIDATION_FAILED: malformed %s: %w", maxTokensPerBatchEnv, err)
		}
		maxTokensPerBatch = parsed
	}
	if obsIn.MaxTokensPerBatch != nil {
		maxTokensPerBatch = *obsIn.MaxTokensPerBatch
	}

	bufferTokens := BufferTokens{Absolute: round(defaultBufferActivation * float64(messageTokensBase))}
	if v, ok := os.LookupEnv(bufferTokensEnv); ok {
		parsed, err := parseBufferTokensEnv(strings.TrimSpace(v), messageTokensBase)
		if err != nil {
			return nil, fmt.Errorf("VALIDATION_FAILED: malformed %s: %w", bufferTokensEnv, err)
		}
		bufferTokens = parsed
	}
	if obsIn.BufferTokens != nil {
		bt := obsIn.BufferTokens
		switch {
		case bt.Disabled:
			bufferTokens = BufferTokens{Disabled: true}
		case bt.Absolute != nil:
			bufferTokens = BufferTokens{Absolute: *bt.Absolute}
		case bt.Ratio != nil:
			bufferTokens = BufferTokens{Absolute: round(*bt.Ratio * float64(messageTokensBase))}
		}
	}

	bufferActivation := defaultBufferActivation
	if obsIn.BufferActivation != nil {
		bufferActivation = *obsIn.BufferActivation
	}

	var totalBudget *int
	if shareTokenBudget {
		v := defaultTotalBudget
		totalBudget = &v
	}

	asyncDisabled := bufferTokens.Disabled
	if scope == types.ScopeResources && !asyncDisabled && obsIn.BufferTokens != nil && !obsIn.BufferTokens.Disabled {
		return nil, fmt.Errorf("VALIDATION_FAILED: resource scope cannot opt into explicit async buffering")
	}
	if scope == types.ScopeResources {
		asyncDisabled = true
	}
	if shareTokenBudget && !asyncDisabled {
		return nil, fmt.Errorf("VALIDATION_FAILED: share_token_budget cannot combine with active async buffering")
	}

	reflectionTokens := defaultReflectionTokens
	if reflIn.ObservationTokens != nil {
		reflectionTokens = *reflIn.ObservationTokens
	}
	reflectionActivation := defaultReflectorActivation
	if reflIn.BufferActivation != nil {
		reflectionActivation = *reflIn.BufferActivation
	}

	return &ResolvedConfig{
		Observation: ObservationConfig{
			MessageTokensBase: messageTokensBase,
			TotalBudget:       totalBudget,
			MaxTokensPerBatch: maxTokensPerBatch,
			BufferTokens:      bufferTokens,
			BufferActivation:  bufferActivation,
			BlockAfter:        obsIn.BlockAfter,
		},
		Reflection: ReflectionConfig{
			ObservationTokens: reflectionTokens,
			BufferActivation:  reflectionActivation,
			BlockAfter:        reflIn.BlockAfter,
		},
		AsyncBufferingDisabled: asyncDisabled,
	}, nil
}

// parseBufferTokensEnv accepts "disabled", a bare integer (absolute token
// count), or a decimal ratio of messageTokensBase (e.g. "0.75").
func parseBufferTokensEnv(v string, messageTokensBase int) (BufferTokens, error) {
	if strings.EqualFold(v, "disabled") {
		return BufferTokens{Disabled: true}, nil
	}
	if strings.Contains(v, ".") {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return BufferTokens{}, err
		}
		return BufferTokens{Absolute: round(ratio * float64(messageTokensBase))}, nil
	}
	abs, err := strconv.Atoi(v)
	if err != nil {
		return BufferTokens{}, err
	}
	return BufferTokens{Absolute: abs}, nil
}

func round(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}
