package opusbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// candidatePaths is the ordered list of locations probed for the native
// Opus library. The bare names defer to the system loader search path; the
// absolute ones cover common install locations it may not search.
var candidatePaths = []string{
	"libopus.so.0",
	"libopus.so",
	"/usr/lib/libopus.so.0",
	"/usr/local/lib/libopus.so.0",
	"libopus.0.dylib",
	"libopus.dylib",
	"/opt/homebrew/lib/libopus.dylib",
}

const (
	loadDeadline  = 10 * time.Second
	loadPollDelay = 100 * time.Millisecond
)

// Bridge loads the native codec module once and hands out decoders bound to
// it. The zero load state is "not loaded"; Load is idempotent and safe for
// concurrent use.
type Bridge struct {
	mu     sync.Mutex
	mod    Module
	logger zerolog.Logger
}

// NewBridge creates an unloaded bridge.
func NewBridge(logger zerolog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// NewBridgeWithModule creates a bridge over an already constructed module.
// Used by tests and by callers that bring their own binding.
func NewBridgeWithModule(mod Module, logger zerolog.Logger) *Bridge {
	return &Bridge{mod: mod, logger: logger}
}

// Loaded reports whether the native module is ready.
func (b *Bridge) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mod != nil
}

// Load locates and initializes the native Opus library, probing each
// candidate path in order and retrying until ctx expires (bounded by a
// 10 second default when ctx carries no deadline). Once loaded, Load
// returns nil immediately without re-probing.
func (b *Bridge) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mod != nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, loadDeadline)
		defer cancel()
	}

	var lastErr error
	for {
		for _, path := range candidatePaths {
			mod, err := openNative(path)
			if err != nil {
				lastErr = err
				b.logger.Debug().Str("path", path).Err(err).Msg("opus library probe failed")
				continue
			}
			// Readiness check: a nonsense state size means the symbols
			// resolved to something other than a working libopus.
			if mod.DecoderSize(Channels) <= 0 {
				lastErr = fmt.Errorf("library at %s not functional", path)
				continue
			}
			b.logger.Info().Str("path", path).Msg("opus library loaded")
			b.mod = mod
			return nil
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("opus library load timed out: %w", lastErr)
			}
			return fmt.Errorf("opus library load timed out: %w", ctx.Err())
		case <-time.After(loadPollDelay):
		}
	}
}

// NewDecoder returns an initialized decoder over the loaded module.
func (b *Bridge) NewDecoder() (*Decoder, error) {
	b.mu.Lock()
	mod := b.mod
	b.mu.Unlock()

	if mod == nil {
		return nil, ErrNotLoaded
	}

	dec := NewDecoder(mod)
	if err := dec.Init(); err != nil {
		return nil, err
	}
	return dec, nil
}
