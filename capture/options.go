package capture

// Option configures a Source.
type Option func(*options)

type options struct {
	prefs     []Preference
	observers []Observer
}

func defaultOptions() options {
	return options{prefs: DefaultPreference}
}

// WithDevicePreference replaces the device selection policy.
func WithDevicePreference(prefs ...Preference) Option {
	return func(o *options) {
		o.prefs = prefs
	}
}

// WithObserver registers o when the Source is created.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observers = append(opts.observers, o)
	}
}
