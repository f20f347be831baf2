package coordinator

import (
	"fmt"
	"hash/fnv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every workload is owned by exactly one instance
func TestOwnershipPartition(t *testing.T) {
	instances := []string{"instance-a", "instance-b", "instance-c"}

	coords := make([]*Coordinator, len(instances))
	for i, id := range instances {
		coords[i] = NewCoordinator(id)
		coords[i].SetInstances(instances)
	}

	for i := 0; i < 100; i++ {
		workloadID := uuid.New().String()
		owners := 0
		for _, c := range coords {
			if c.Owns(workloadID) {
				owners++
			}
		}
		assert.Equal(t, 1, owners, "workload %s", workloadID)
	}
}

// With 3 instances and 300 keys no instance owns fewer than 70 or more
// than 130
func TestOwnershipDistribution(t *testing.T) {
	instances := []string{"instance-a", "instance-b", "instance-c"}
	c := NewCoordinator("instance-a")
	c.SetInstances(instances)

	counts := make(map[string]int)
	for i := 0; i < 300; i++ {
		counts[c.OwnerOf(uuid.New().String())]++
	}

	for _, id := range instances {
		assert.GreaterOrEqual(t, counts[id], 70, "instance %s starved", id)
		assert.LessOrEqual(t, counts[id], 130, "instance %s overloaded", id)
	}
}

// Adding one instance to a set of n reassigns roughly 1/(n+1) of workloads.
// Modulus hashing moves more than ring hashing would; allow a wide margin
// but require that most keys keep their owner for small n.
func TestReassignmentOnMembershipChange(t *testing.T) {
	c := NewCoordinator("instance-a")
	c.SetInstances([]string{"instance-a", "instance-b"})

	keys := make([]string, 400)
	before := make(map[string]string, len(keys))
	for i := range keys {
		keys[i] = uuid.New().String()
		before[keys[i]] = c.OwnerOf(keys[i])
	}

	c.SetInstances([]string{"instance-a", "instance-b", "instance-c"})

	moved := 0
	for _, k := range keys {
		if c.OwnerOf(k) != before[k] {
			moved++
		}
	}

	// hash mod N moves about (N-1)/N of keys in the worst case; verify the
	// change is neither total nor empty and the new instance got work
	assert.Greater(t, moved, 0)
	assert.Less(t, moved, len(keys))

	counts := make(map[string]int)
	for _, k := range keys {
		counts[c.OwnerOf(k)]++
	}
	assert.Greater(t, counts["instance-c"], 0)
}

// Deterministic assignment: hash mod N picks the same owner everywhere
func TestDeterministicAssignment(t *testing.T) {
	const workloadID = "bot-xyz"
	instances := []string{"a", "b"}

	h := fnv.New64a()
	_, _ = h.Write([]byte(workloadID))
	wantIdx := h.Sum64() % uint64(len(instances))

	ca := NewCoordinator("a")
	ca.SetInstances(instances)
	cb := NewCoordinator("b")
	cb.SetInstances(instances)

	assert.Equal(t, instances[wantIdx], ca.OwnerOf(workloadID))
	assert.Equal(t, ca.OwnerOf(workloadID) == "a", ca.Owns(workloadID))
	assert.Equal(t, cb.OwnerOf(workloadID) == "b", cb.Owns(workloadID))
	assert.NotEqual(t, ca.Owns(workloadID), cb.Owns(workloadID))

	// Growing the set re-hashes mod 3
	ca.SetInstances([]string{"a", "b", "c"})
	h = fnv.New64a()
	_, _ = h.Write([]byte(workloadID))
	assert.Equal(t, []string{"a", "b", "c"}[h.Sum64()%3], ca.OwnerOf(workloadID))
}

func TestEmptyInstanceSetOwnsNothing(t *testing.T) {
	c := NewCoordinator("instance-a")
	c.SetInstances(nil)

	assert.Equal(t, "", c.OwnerOf("anything"))
	assert.False(t, c.Owns("anything"))
	assert.Empty(t, c.Assigned([]string{"w1", "w2"}))
}

func TestSingleInstanceOwnsEverything(t *testing.T) {
	c := NewCoordinator("only")
	for i := 0; i < 50; i++ {
		assert.True(t, c.Owns(fmt.Sprintf("workload-%d", i)))
	}

	s := NewSingleInstance("only")
	assert.True(t, s.Owns("anything"))
	assert.Equal(t, []string{"w1", "w2"}, s.Assigned([]string{"w1", "w2"}))
	assert.Equal(t, []string{"only"}, s.Instances())
}

func TestAssignmentChangeToken(t *testing.T) {
	c := NewCoordinator("instance-a")
	ch := c.AssignmentChanges()

	// NewCoordinator does not signal; the first SetInstances does
	select {
	case <-ch:
		t.Fatal("unexpected token before any membership change")
	default:
	}

	c.SetInstances([]string{"instance-a", "instance-b"})
	c.SetInstances([]string{"instance-a"})

	// Tokens coalesce into the subscriber's single slot
	select {
	case <-ch:
	default:
		t.Fatal("expected a pending token")
	}
	select {
	case <-ch:
		t.Fatal("tokens should coalesce")
	default:
	}
}

// Every subscriber gets its own token; one subscriber draining its channel
// must not starve the others.
func TestAssignmentChangeFanOut(t *testing.T) {
	c := NewCoordinator("instance-a")
	first := c.AssignmentChanges()
	second := c.AssignmentChanges()
	third := c.AssignmentChanges()

	c.SetInstances([]string{"instance-a", "instance-b"})

	<-first
	select {
	case <-second:
	default:
		t.Fatal("second subscriber missed the token")
	}
	select {
	case <-third:
	default:
		t.Fatal("third subscriber missed the token")
	}
}

func TestAssignedFilters(t *testing.T) {
	instances := []string{"instance-a", "instance-b", "instance-c"}
	ca := NewCoordinator("instance-a")
	ca.SetInstances(instances)

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = uuid.New().String()
	}

	owned := ca.Assigned(ids)
	require.NotEmpty(t, owned)
	for _, id := range owned {
		assert.True(t, ca.Owns(id))
	}
	assert.Less(t, len(owned), len(ids))
}

func TestGenerateInstanceID(t *testing.T) {
	id := GenerateInstanceID()
	assert.NotEmpty(t, id)
	assert.NotContains(t, id, " ")

	// Monotonic suffix keeps IDs unique
	assert.NotEqual(t, id, GenerateInstanceID())
}
