package status

// Status represents a job state
type Status int

const (
	// Pending - accepted by the queue, not started
	Pending Status = iota + 1
	// Progress - worker is running
	Progress
	// Success - terminal, result available
	Success
	// Failure - terminal, error recorded
	Failure
	// Timeout is a poller-local synthetic outcome, never stored for a job
	Timeout
)

var (
	statusName = map[Status]string{Pending: "PENDING", Progress: "PROGRESS",
		Success: "SUCCESS", Failure: "FAILURE", Timeout: "TIMEOUT"}
	nameStatus = map[string]Status{"PENDING": Pending, "PROGRESS": Progress,
		"SUCCESS": Success, "FAILURE": Failure, "TIMEOUT": Timeout}
	// forward ordering of the state machine, terminal states share a rank
	statusSeq = map[Status]int{Pending: 1, Progress: 2, Success: 3, Failure: 3}
)

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
func From(st string) Status {
	return nameStatus[st]
}

// Sequence returns the position in the state machine.
// Transitions must never decrease it. Timeout has no position.
func (st Status) Sequence() int {
	return statusSeq[st]
}

// Terminal returns true for Success and Failure
func (st Status) Terminal() bool {
	return st == Success || st == Failure
}
