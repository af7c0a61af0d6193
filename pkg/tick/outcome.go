package tick

// Outcome is the closed result type of one critical step: the step
// produced a fresh value, degraded to a fallback-cache value, or failed
// with nothing to serve.
type Outcome interface {
	outcome()
}

// Success carries a freshly produced step value.
type Success struct {
	Value string
}

// FallbackUsed carries a cached (possibly stale or default) value and the
// reason the real step did not produce one.
type FallbackUsed struct {
	Value  string
	Reason string
}

// Failed means neither the step nor the fallback cache produced a value;
// the cycle aborts.
type Failed struct {
	Reason string
}

func (Success) outcome()      {}
func (FallbackUsed) outcome() {}
func (Failed) outcome()       {}

// outcomeValue extracts the usable value, if any.
func outcomeValue(o Outcome) (string, bool) {
	switch v := o.(type) {
	case Success:
		return v.Value, true
	case FallbackUsed:
		return v.Value, true
	default:
		return "", false
	}
}
