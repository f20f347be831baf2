package coordinator

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/fleetwatch/fleetwatch/pkg/log"
)

// Assigner decides which workloads this instance owns
type Assigner interface {
	// Owns reports whether this instance owns the workload ID
	Owns(workloadID string) bool

	// Assigned filters a list of workload IDs down to the owned subset
	Assigned(workloadIDs []string) []string

	// Instances returns the current sorted instance set
	Instances() []string

	// AssignmentChanges registers and returns a single-slot channel that
	// receives a token after every membership change. Each caller gets its
	// own channel; consecutive changes may coalesce per subscriber.
	AssignmentChanges() <-chan struct{}
}

// Coordinator shards workloads across control-plane instances by consistent
// hashing over the sorted instance set
type Coordinator struct {
	self string

	mu        sync.RWMutex
	instances []string
	subs      []chan struct{}
}

// NewCoordinator creates a coordinator for this instance. The instance set
// starts as the singleton [self] until the registry watch replaces it.
func NewCoordinator(instanceID string) *Coordinator {
	return &Coordinator{
		self:      instanceID,
		instances: []string{instanceID},
	}
}

// Run consumes a registry watch stream until ctx is cancelled, replacing the
// instance set on every emission
func (c *Coordinator) Run(ctx context.Context, watch <-chan []string) {
	logger := log.WithComponent("coordinator")
	for {
		select {
		case <-ctx.Done():
			return
		case instances, ok := <-watch:
			if !ok {
				return
			}
			c.SetInstances(instances)
			logger.Info().Strs("instances", c.Instances()).Msg("instance set changed")
		}
	}
}

// SetInstances atomically replaces the instance set and signals every
// subscriber
func (c *Coordinator) SetInstances(instances []string) {
	sorted := make([]string, len(instances))
	copy(sorted, instances)
	sort.Strings(sorted)

	c.mu.Lock()
	c.instances = sorted
	subs := make([]chan struct{}, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	// Single-slot tokens: drop when a subscriber's recheck is already pending
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// OwnerOf returns the instance that owns a workload ID, or "" when the
// instance set is empty
func (c *Coordinator) OwnerOf(workloadID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.instances) == 0 {
		return ""
	}
	if len(c.instances) == 1 {
		return c.instances[0]
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(workloadID))
	return c.instances[h.Sum64()%uint64(len(c.instances))]
}

// Owns reports whether this instance owns the workload ID
func (c *Coordinator) Owns(workloadID string) bool {
	return c.OwnerOf(workloadID) == c.self
}

// Assigned filters workload IDs down to those owned by this instance
func (c *Coordinator) Assigned(workloadIDs []string) []string {
	owned := make([]string, 0, len(workloadIDs))
	for _, id := range workloadIDs {
		if c.Owns(id) {
			owned = append(owned, id)
		}
	}
	return owned
}

// Instances returns a copy of the current sorted instance set
func (c *Coordinator) Instances() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.instances))
	copy(out, c.instances)
	return out
}

// AssignmentChanges registers a new subscriber. Every subscriber receives
// its own token on membership changes, so multiple reconcilers can each
// recheck promptly.
func (c *Coordinator) AssignmentChanges() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}
