package coordinator

// SingleInstance is the Assigner used when no coordination store is
// configured: one instance owns everything.
type SingleInstance struct {
	instanceID string
	changes    chan struct{}
}

// NewSingleInstance creates the single-instance stub
func NewSingleInstance(instanceID string) *SingleInstance {
	return &SingleInstance{
		instanceID: instanceID,
		changes:    make(chan struct{}),
	}
}

func (s *SingleInstance) Owns(string) bool { return true }

func (s *SingleInstance) Assigned(workloadIDs []string) []string { return workloadIDs }

func (s *SingleInstance) Instances() []string { return []string{s.instanceID} }

// AssignmentChanges never fires in single-instance mode
func (s *SingleInstance) AssignmentChanges() <-chan struct{} { return s.changes }
