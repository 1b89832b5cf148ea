// Package ledger keeps token and native balances for the simulated chain and
// a journal that lets a whole operation be undone.
package ledger

import "fmt"

type revision struct {
	id           int
	journalIndex int
}

// Journal records undo closures so that state changes made after a snapshot
// can be rolled back. It is not safe for concurrent use; callers serialize
// access around each operation.
type Journal struct {
	undo      []func()
	revisions []revision
	nextID    int
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append records how to undo one state change. Changes made while no
// snapshot is outstanding are final and are not recorded.
func (j *Journal) Append(undo func()) {
	if len(j.revisions) == 0 {
		return
	}
	j.undo = append(j.undo, undo)
}

// Length returns the number of recorded changes.
func (j *Journal) Length() int {
	return len(j.undo)
}

// Snapshot returns an identifier for the current state.
func (j *Journal) Snapshot() int {
	id := j.nextID
	j.nextID++
	j.revisions = append(j.revisions, revision{id: id, journalIndex: len(j.undo)})
	return id
}

// RevertToSnapshot undoes every change made since the snapshot, newest first.
func (j *Journal) RevertToSnapshot(id int) error {
	idx := j.find(id)
	if idx < 0 {
		return fmt.Errorf("revision id %d cannot be reverted", id)
	}
	target := j.revisions[idx].journalIndex
	for i := len(j.undo) - 1; i >= target; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:target]
	j.revisions = j.revisions[:idx]
	return nil
}

// Commit forgets the snapshot and any taken after it. Once no snapshot is
// outstanding the undo log is dropped.
func (j *Journal) Commit(id int) error {
	idx := j.find(id)
	if idx < 0 {
		return fmt.Errorf("revision id %d cannot be committed", id)
	}
	j.revisions = j.revisions[:idx]
	if len(j.revisions) == 0 {
		j.undo = j.undo[:0]
	}
	return nil
}

func (j *Journal) find(id int) int {
	for i := len(j.revisions) - 1; i >= 0; i-- {
		if j.revisions[i].id == id {
			return i
		}
	}
	return -1
}
