package capture

// Observer consumes what a Source produces. Both methods run on the delivery
// goroutine and must return promptly.
type Observer interface {
	// OnFrameDelivered receives a frame. The frame is valid until the method
	// returns; call f.Retain to keep it.
	OnFrameDelivered(f *Frame)

	// OnError receives an *Error.
	OnError(err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Frame func(*Frame)
	Error func(error)
}

// OnFrameDelivered calls o.Frame.
func (o ObserverFuncs) OnFrameDelivered(f *Frame) {
	if o.Frame != nil {
		o.Frame(f)
	}
}

// OnError calls o.Error.
func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// Registration identifies an observer registered with a Source.
// The Source does not keep the observer alive beyond Unregister or Teardown.
type Registration struct {
	id  uint64
	src *Source
}

// Unregister removes the observer. It is safe to call more than once and on
// the zero Registration.
func (r Registration) Unregister() {
	if r.src == nil {
		return
	}
	r.src.obsMu.Lock()
	defer r.src.obsMu.Unlock()
	for i, e := range r.src.observers {
		if e.id == r.id {
			r.src.observers = append(r.src.observers[:i:i], r.src.observers[i+1:]...)
			return
		}
	}
}

type registered struct {
	id  uint64
	obs Observer
}
