package edb

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// newNopLogger returns a logger that discards everything, the default for
// an Env that never calls SetLogger.
func newNopLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// componentLogger returns a sub-logger tagged with component, the pattern
// Env uses for its open/close messages.
func componentLogger(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// logCommit emits a single structured line reporting a write transaction's
// commit latency and size, used by Txn.Commit.
func logCommit(l zerolog.Logger, id txnID, dirtyPages int, elapsed time.Duration) {
	l.Debug().
		Uint64("txn_id", uint64(id)).
		Int("dirty_pages", dirtyPages).
		Dur("elapsed", elapsed).
		Msg("transaction committed")
}
