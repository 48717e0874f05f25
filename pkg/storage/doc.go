/*
Package storage provides BoltDB-backed persistence for episodes and runbooks.

The Store interface is implemented by BoltStore over a single database file
(<dataDir>/guardian.db) with two buckets:

	episodes   keyed by episode id (opaque uuid)
	runbooks   keyed by pattern id (signature hash + version)

All records are serialized as JSON, which round-trips the data model exactly,
including plan action order and the execution attempt history. Terminal
episodes are retained indefinitely; nothing in this package deletes them.

# Transaction Model

Reads use db.View (concurrent snapshots), writes use db.Update (serialized,
atomic, fsynced). IncrementRunbookSuccess performs its read-modify-write
inside a single write transaction, which is what serializes per-pattern
counter updates without ever rewriting the plan template.

# Usage

	store, err := storage.NewBoltStore("/var/lib/guardian")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.CreateEpisode(ep)
	ep, err = store.GetEpisode(id)
	active, err := store.ListEpisodesByState(types.StateExecuting)
*/
package storage
