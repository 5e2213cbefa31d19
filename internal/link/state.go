package link

// State is the lifecycle position of the serial link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Draining
	Closed
	Terminating
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}
