package problem

// ConfigurationError reports an invalid problem or solver setting, or a
// capability a solver needs that the problem cannot provide.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error: " + e.Field + " " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is matches any *ConfigurationError so callers can test the category with
// errors.Is(err, &ConfigurationError{}).
func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}
