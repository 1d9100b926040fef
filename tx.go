package neurite

import (
	"context"
	"fmt"
	"time"

	"github.com/neuritedb/neurite/store"
	"github.com/neuritedb/neurite/txlog"
)

// Tx collects changes and commits them as one atomic unit. A Tx is not safe
// for concurrent use; each goroutine gets its own.
//
// Changes stay invisible to readers until Commit returns. A failed Commit
// leaves the transaction open so the caller can Rollback.
type Tx struct {
	db        *DB
	cmds      []store.Command
	allocated []uint64
	done      bool
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := db.state.require(); err != nil {
		return nil, err
	}

	if err := db.guard.Require(); err != nil {
		return nil, err
	}

	return &Tx{db: db}, nil
}

// CreateNode stages a node with the given labels and returns its id. The id
// is allocated immediately so later commands in the same transaction can
// reference it.
func (tx *Tx) CreateNode(labels ...string) (uint64, error) {
	if tx.done {
		return 0, ErrTxDone
	}

	id, err := tx.db.store.AllocateNodeID()
	if err != nil {
		return 0, err
	}

	tx.allocated = append(tx.allocated, id)
	tx.cmds = append(tx.cmds, store.CreateNode{ID: id, Labels: labels})
	return id, nil
}

// DeleteNode stages the removal of a node.
func (tx *Tx) DeleteNode(id uint64) error {
	if tx.done {
		return ErrTxDone
	}

	tx.cmds = append(tx.cmds, store.DeleteNode{ID: id})
	return nil
}

// SetProperty stages a property write on a node.
func (tx *Tx) SetProperty(nodeID uint64, key, value string) error {
	if tx.done {
		return ErrTxDone
	}

	tx.cmds = append(tx.cmds, store.SetProperty{NodeID: nodeID, Key: key, Value: value})
	return nil
}

// Commit writes the staged commands to the transaction log, flushes, and
// applies them to the store. An empty transaction commits without touching
// the log.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}

	db := tx.db

	if err := db.state.require(); err != nil {
		return err
	}

	if err := db.guard.Require(); err != nil {
		return err
	}

	if len(tx.cmds) == 0 {
		tx.done = true
		return nil
	}

	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if err := tx.validate(); err != nil {
		return err
	}

	if db.log.RotationNeeded() {
		if _, err := db.log.Rotate(); err != nil {
			return fmt.Errorf("rotate transaction log: %w", err)
		}
	}

	txID := db.store.BeginCommit()

	if _, err := db.log.Append(txlog.StartEntry{
		Time:            time.Now().UnixMilli(),
		LastCommittedTx: db.store.LastCommittedTransaction(),
	}); err != nil {
		return fmt.Errorf("append start entry: %w", err)
	}

	for _, cmd := range tx.cmds {
		payload, err := store.EncodeCommand(cmd)
		if err != nil {
			return fmt.Errorf("encode command: %w", err)
		}

		if _, err := db.log.Append(txlog.CommandEntry{Payload: payload}); err != nil {
			return fmt.Errorf("append command entry: %w", err)
		}
	}

	if _, err := db.log.Append(txlog.CommitEntry{
		TxID: txID,
		Time: time.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("append commit entry: %w", err)
	}

	if err := db.log.Flush(); err != nil {
		return fmt.Errorf("flush commit: %w", err)
	}

	// The commit entry is durable; from here the transaction survives a
	// crash via replay even if applying fails mid-way.
	for _, cmd := range tx.cmds {
		if err := db.store.ApplyCommand(cmd); err != nil {
			return fmt.Errorf("apply command: %w", err)
		}
	}

	db.store.CloseTransaction(txID, db.log.Position())
	db.recorder.commits.Add(1)
	db.logger.LogCommit(ctx, txID, len(tx.cmds))

	tx.done = true
	return nil
}

// validate rejects staged commands that cannot apply, before anything
// reaches the log. Runs under commitMu so the store cannot change
// underneath it.
func (tx *Tx) validate() error {
	created := make(map[uint64]bool)
	deleted := make(map[uint64]bool)

	for _, cmd := range tx.cmds {
		switch c := cmd.(type) {
		case store.CreateNode:
			created[c.ID] = true
			delete(deleted, c.ID)
		case store.DeleteNode:
			if deleted[c.ID] {
				return fmt.Errorf("delete node %d: %w", c.ID, ErrNodeNotFound)
			}

			if !created[c.ID] {
				if _, ok := tx.db.store.Node(c.ID); !ok {
					return fmt.Errorf("delete node %d: %w", c.ID, ErrNodeNotFound)
				}
			}

			deleted[c.ID] = true
			delete(created, c.ID)
		case store.SetProperty:
			if created[c.NodeID] {
				continue
			}

			if deleted[c.NodeID] {
				return fmt.Errorf("set property on node %d: %w", c.NodeID, ErrNodeNotFound)
			}

			if _, ok := tx.db.store.Node(c.NodeID); !ok {
				return fmt.Errorf("set property on node %d: %w", c.NodeID, ErrNodeNotFound)
			}
		}
	}

	return nil
}

// Rollback discards the staged commands and releases any node ids the
// transaction allocated. Rolling back a finished transaction is a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}

	for _, id := range tx.allocated {
		tx.db.store.ReleaseNodeID(id)
	}

	tx.allocated = nil
	tx.cmds = nil
	tx.done = true
	return nil
}