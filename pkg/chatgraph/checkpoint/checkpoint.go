package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Checkpoint is the persisted snapshot of a thread after one step.
// The latest checkpoint of a thread is all that is needed to continue it.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`

	// NodeID is the node whose update produced this checkpoint.
	// Empty for checkpoints written by a direct state update.
	NodeID string `json:"node_id,omitempty"`

	// NextNode is the node routed to after NodeID, or "__end__" when the
	// turn finished.
	NextNode string `json:"next_node,omitempty"`

	// State is the schema-encoded state after the step's merge.
	State json.RawMessage `json:"state"`
}

// New creates a checkpoint for the given thread and step.
// State must already be JSON-encoded.
func New(threadID string, step int, nodeID string, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		Step:      step,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		NextNode:  nextNode,
		State:     state,
	}
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Info returns the checkpoint metadata.
func (c *Checkpoint) Info(size int64) Info {
	return Info{
		ThreadID:  c.ThreadID,
		Step:      c.Step,
		NodeID:    c.NodeID,
		NextNode:  c.NextNode,
		Timestamp: c.Timestamp,
		Size:      size,
	}
}

// Unmarshal deserializes a checkpoint from JSON.
// Checkpoints written by a newer format version are rejected.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Version > Version {
		return nil, fmt.Errorf("%w: got %d, support up to %d", ErrVersionMismatch, c.Version, Version)
	}
	return &c, nil
}
