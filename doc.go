// Package neurite implements an embedded, transactional node store whose
// durability comes from an append-only transaction log.
//
// # Durability model
//
// Every commit appends its commands to the current log file, flushes them
// according to the configured durability mode, and only then mutates the
// in-memory store. The log is the source of truth: the snapshot, id and
// metadata files a checkpoint writes are an optimization that bounds how
// much log a restart has to replay.
//
// Log files rotate once they exceed the rotation threshold. Rotation bumps
// the version counter durably before the new file exists, so a crash at any
// point mid-rotation is repaired on the next open.
//
// Checkpoints record the log position the on-disk snapshot has caught up
// to. They live either in a separate checkpoint file (the default) or
// inline in the transaction log itself.
//
// # Recovery
//
// Opening a database that was not shut down cleanly replays the committed
// transactions past the latest checkpoint, truncates whatever incomplete
// tail the crash left behind, and writes a fresh checkpoint. Startups that
// find files missing either fail (the default) or, with
// FailOnMissingFiles disabled, rebuild what they can and record the forced
// recovery in the store metadata.
//
// # Usage
//
//	db, err := neurite.Open("/var/lib/neurite", func(o *neurite.Options) {
//		o.Logger = neurite.NewTextLogger(os.Stderr, slog.LevelInfo)
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	id, _ := tx.CreateNode("person")
//	tx.SetProperty(id, "name", "Ada")
//	if err := tx.Commit(ctx); err != nil {
//		log.Fatal(err)
//	}
package neurite
