// Package snowflake generates roughly time ordered 63-bit IDs for notifications.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch is 2024-01-01T00:00:00Z in milliseconds.
	Epoch int64 = 1704067200000

	// NodeBits and StepBits share the 22 low bits.
	NodeBits uint8 = 10
	StepBits uint8 = 12

	nodeMask  = -1 ^ (-1 << NodeBits)
	stepMask  = -1 ^ (-1 << StepBits)
	timeShift = NodeBits + StepBits
	nodeShift = StepBits
)

// ErrInvalidNode node id out of range
var ErrInvalidNode = errors.New("snowflake: node id must be between 0 and 1023")

// IDGenerator ID generator using the snowflake layout. Safe for concurrent use.
type IDGenerator struct {
	mu        sync.Mutex
	timestamp int64
	nodeID    int64
	step      int64
	now       func() int64
}

// NewIDGenerator creates a new ID generator
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	if nodeID < 0 || nodeID > nodeMask {
		return nil, ErrInvalidNode
	}
	return &IDGenerator{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns the next ID. If the wall clock steps backwards the last seen
// millisecond is reused, so IDs from one generator never decrease.
func (g *IDGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.timestamp {
		now = g.timestamp
	}

	if now == g.timestamp {
		g.step = (g.step + 1) & stepMask
		if g.step == 0 {
			// sequence exhausted for this millisecond
			now++
		}
	} else {
		g.step = 0
	}
	g.timestamp = now

	return ((now - Epoch) << timeShift) | (g.nodeID << nodeShift) | g.step
}

// ParseID splits an ID into its timestamp (ms), node and step.
func ParseID(id int64) (timestamp int64, nodeID int64, step int64) {
	return GetTimestamp(id), GetNodeID(id), GetStep(id)
}

// GetTimestamp returns the timestamp part of an ID
func GetTimestamp(id int64) int64 {
	return (id >> timeShift) + Epoch
}

// GetNodeID returns the node ID part of an ID
func GetNodeID(id int64) int64 {
	return (id >> nodeShift) & nodeMask
}

// GetStep returns the step part of an ID
func GetStep(id int64) int64 {
	return id & stepMask
}

// Time is the UTC creation time encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli(GetTimestamp(id)).UTC()
}
