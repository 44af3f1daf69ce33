package metrics

// NullHandler discards every record. Useful as the default sink so callers
// never need a nil check; plugging in a real exporter backend is entirely
// up to the caller.
type NullHandler struct{}

func (NullHandler) HandleAttempt(AttemptRecord)   {}
func (NullHandler) HandleOperation(OperationRecord) {}

var _ Handler = NullHandler{}
