package presence

// DisplayState tracks which render branch a consumer should take. It carries
// no correctness weight for the written data.
type DisplayState uint8

const (
	DisplayStateInit DisplayState = iota
	DisplayStateResumed
	DisplayStateError
)

func (s DisplayState) String() string {
	switch s {
	case DisplayStateInit:
		return "INIT"
	case DisplayStateResumed:
		return "RESUMED"
	case DisplayStateError:
		return "ERROR"
	default:
		return "UNDOCUMENTED_STATE"
	}
}

type ViewKind uint8

const (
	ViewKindEmpty ViewKind = iota
	ViewKindData
	ViewKindError
)

// SelectView picks the render branch for a given state, data and error.
// An error state always wins; data only renders once the subscription has
// produced something.
func SelectView(state DisplayState, data *Record, err error) ViewKind {
	if state == DisplayStateError || err != nil {
		return ViewKindError
	}

	if state == DisplayStateResumed && data != nil {
		return ViewKindData
	}

	return ViewKindEmpty
}
