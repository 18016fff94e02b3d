package exporter

import "encoding/json"

// Batch is the constraint a payload type satisfies to go through a Sender.
// Batches are treated as immutable.
type Batch[B any] interface {
	json.Marshaler
	// IsEmpty reports whether there is nothing to send.
	IsEmpty() bool
	// Split partitions the batch for resubmission after a 413. Fewer than
	// two parts means the batch cannot be split further.
	Split() []B
}
