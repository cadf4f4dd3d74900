// Package errors provides cleanup helpers for deferred resource release.
//
// Telemetry code runs inside someone else's application, so a failed
// close must never panic or propagate. These helpers downgrade cleanup
// failures to warnings on the component logger.
package errors

import (
	"database/sql"
	stderrors "errors"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs failures at warn level under msg.
// Nil closers are ignored so callers can defer unconditionally.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferRollback rolls back tx and logs failures at warn level.
// sql.ErrTxDone is ignored: the transaction already committed.
func DeferRollback(logger zerolog.Logger, tx *sql.Tx) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
		logger.Warn().Err(err).Msg("Failed to roll back transaction")
	}
}
