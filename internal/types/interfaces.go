// internal/types/interfaces.go
package types

// StatusReader is the read side of the document status store.
type StatusReader interface {
	Get(id DocumentID) (StatusUpdate, bool)
	Snapshot() (map[DocumentID]StatusUpdate, uint64)
	Subscribe() (<-chan struct{}, func())
}

// StatusWriter is the write side, held only by the status channel.
type StatusWriter interface {
	Upsert(update StatusUpdate)
	Reset()
}
