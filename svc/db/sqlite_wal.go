package db

import (
	"context"
	"database/sql"
	"time"

	"bitbin/metrics"
	"bitbin/svc/util"

	"github.com/pkg/errors"
)

const (
	checkpointInterval = 5 * time.Minute
	truncateLogPages   = 1000
	integrityTimeout   = 30 * time.Second
)

// StartWALMaintenance checkpoints the WAL every interval until quit is
// closed, then runs one last checkpoint.
func StartWALMaintenance(db *sql.DB, interval time.Duration, quit <-chan struct{}) {
	if interval <= 0 {
		interval = checkpointInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := performWALCheckpoint(db); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-quit:
			if err := performWALCheckpoint(db); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}
func performWALCheckpoint(db *sql.DB) error {
	start := time.Now()
	metrics.WALCheckpoints.Inc()
	var busyPages, logPages, checkpointed int
	err := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busyPages, &logPages, &checkpointed)
	if err != nil {
		return errors.Wrap(err, "PASSIVE checkpoint")
	}
	util.Debug().
		Int("busy", busyPages).
		Int("log", logPages).
		Int("checkpointed", checkpointed).
		Msg("PASSIVE checkpoint result")
	if logPages > truncateLogPages || busyPages > 0 {
		util.Info().Msg("escalating to TRUNCATE checkpoint")
		err = db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busyPages, &logPages, &checkpointed)
		if err != nil {
			return errors.Wrap(err, "TRUNCATE checkpoint")
		}
		util.Info().
			Int("busy", busyPages).
			Int("log", logPages).
			Int("checkpointed", checkpointed).
			Msg("TRUNCATE checkpoint result")
	}
	if err := verifyIntegrity(db); err != nil {
		util.Error().Err(err).Msg("CRITICAL: database integrity check failed after checkpoint")
		return err
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}
func verifyIntegrity(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), integrityTimeout)
	defer cancel()
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return errors.Wrap(err, "quick_check query failed")
	}
	if result != "ok" {
		return errors.Errorf("quick_check returned: %s", result)
	}
	return nil
}
