package cluster

// failover tracks consecutive failures against the current node and rotates
// to the next node once maxAttempts is reached.
type failover struct {
	index       int
	attempts    int
	maxAttempts int
	size        int
}

func newFailover(size, maxAttempts int) failover {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return failover{maxAttempts: maxAttempts, size: size}
}

// recordFailure counts a failure and reports whether the node index rotated
func (f *failover) recordFailure() bool {
	f.attempts++
	if f.attempts < f.maxAttempts {
		return false
	}
	f.attempts = 0
	f.index = (f.index + 1) % f.size
	return true
}

func (f *failover) recordSuccess() {
	f.attempts = 0
}

func (f *failover) selectNode(i int) {
	f.index = i
	f.attempts = 0
}
