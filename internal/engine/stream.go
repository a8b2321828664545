package engine

// Stream delivers the steps of one request. Events is closed once the
// request is finished; Wait blocks until then.
type Stream struct {
	ID string

	events chan Event
	done   chan struct{}
	out    Output
	err    error
}

func newStream(id string, maxTokens int) *Stream {
	// each step emits at least one token, so a request never has more than
	// maxTokens steps and the producer never blocks
	return &Stream{
		ID:     id,
		events: make(chan Event, maxTokens+2),
		done:   make(chan struct{}),
	}
}

func (s *Stream) Events() <-chan Event { return s.events }

// Wait returns the final output. For cancelled and failed requests the
// output holds the partial generation alongside the error.
func (s *Stream) Wait() (Output, error) {
	<-s.done
	return s.out, s.err
}

// Done is closed when the request is finished.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) push(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Stream) finish(out Output, err error) {
	s.out = out
	s.err = err
	close(s.events)
	close(s.done)
}
