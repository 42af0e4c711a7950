package pipeline

// State is the lifecycle position of a request inside the pipeline.
// Transitions are strictly forward; a failure at any stage moves the
// request to Failed.
type State int

const (
	Dispatching State = iota
	Fetching
	Converting
	Publishing
	Delivering
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Dispatching:
		return "DISPATCHING"
	case Fetching:
		return "FETCHING"
	case Converting:
		return "CONVERTING"
	case Publishing:
		return "PUBLISHING"
	case Delivering:
		return "DELIVERING"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	}

	return "UNKNOWN"
}
