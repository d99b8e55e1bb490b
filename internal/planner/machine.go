package planner

// State is the tick loop's lifecycle. At most one tick is ever in flight;
// requests arriving while busy coalesce into a single pending retick.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateTicking
	StateTickingPending
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateTicking:
		return "ticking"
	case StateTickingPending:
		return "ticking+pending"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Input is an occurrence the state machine reacts to.
type Input int

const (
	InputStart Input = iota
	InputStop
	InputTickRequest
	InputTickDone
	InputFinish
)

// Next is the pure transition function. The second return value reports
// whether the caller should begin a new tick now.
func Next(s State, in Input) (State, bool) {
	switch in {
	case InputStart:
		if s == StateIdle {
			return StateWaiting, false
		}
		return s, false
	case InputStop:
		return StateIdle, false
	case InputTickRequest:
		switch s {
		case StateWaiting:
			return StateTicking, true
		case StateTicking, StateTickingPending:
			// Coalesce: many requests while busy yield one retick.
			return StateTickingPending, false
		default:
			return s, false
		}
	case InputTickDone:
		switch s {
		case StateTicking:
			return StateWaiting, false
		case StateTickingPending:
			return StateTicking, true
		default:
			return s, false
		}
	case InputFinish:
		return StateFinished, false
	default:
		return s, false
	}
}
