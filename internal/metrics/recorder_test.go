package metrics

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	attempts   []AttemptRecord
	operations []OperationRecord
}

func (h *fakeHandler) HandleAttempt(r AttemptRecord)   { h.attempts = append(h.attempts, r) }
func (h *fakeHandler) HandleOperation(r OperationRecord) { h.operations = append(h.operations, r) }

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorderHappyPathOneAttempt(t *testing.T) {
	h := &fakeHandler{}
	r := New("ReadRows", true, silentLogger(), h)

	r.StartAttempt()
	r.RecordMetadata("cluster-a", "zone-a")
	r.AttemptFirstResponse()
	r.EndAttempt("OK")
	r.End("OK")

	require.Len(t, h.attempts, 1)
	require.Equal(t, "ReadRows", h.attempts[0].Operation)
	require.Equal(t, "cluster-a", h.attempts[0].ClusterID)
	require.Equal(t, 0, h.attempts[0].AttemptIndex)

	require.Len(t, h.operations, 1)
	require.Equal(t, 1, h.operations[0].AttemptCount)
	require.Equal(t, "OK", h.operations[0].Status)
}

func TestRecorderEndClosesAnOpenAttemptFirst(t *testing.T) {
	h := &fakeHandler{}
	r := New("MutateRows", false, silentLogger(), h)

	r.StartAttempt()
	r.End("DEADLINE_EXCEEDED")

	require.Len(t, h.attempts, 1, "End must close the open attempt before forwarding the operation record")
	require.Equal(t, "DEADLINE_EXCEEDED", h.attempts[0].Status)
	require.Len(t, h.operations, 1)
}

func TestRecorderMultipleAttemptsIncrementIndex(t *testing.T) {
	h := &fakeHandler{}
	r := New("MutateRows", false, silentLogger(), h)

	r.StartAttempt()
	r.EndAttempt("UNAVAILABLE")
	r.StartAttempt()
	r.EndAttempt("OK")
	r.End("OK")

	require.Len(t, h.attempts, 2)
	require.Equal(t, 0, h.attempts[0].AttemptIndex)
	require.Equal(t, 1, h.attempts[1].AttemptIndex)
	require.Equal(t, 2, h.operations[0].AttemptCount)
}

func TestRecorderInvalidTransitionsAreIgnoredNotPanicking(t *testing.T) {
	h := &fakeHandler{}
	r := New("ReadRows", true, silentLogger(), h)

	r.EndAttempt("OK") // no attempt started
	require.Empty(t, h.attempts, "EndAttempt with no active attempt must be a no-op")

	r.RecordMetadata("c", "z") // not in an active attempt
	r.AttemptFirstResponse()   // not in an active attempt

	r.StartAttempt()
	r.EndAttempt("OK")
	r.End("OK")

	r.End("OK") // already completed
	require.Len(t, h.operations, 1, "End called twice must forward exactly one operation record")
}

func TestRecorderEndForwardsToMultipleHandlers(t *testing.T) {
	h1, h2 := &fakeHandler{}, &fakeHandler{}
	r := New("ReadRows", true, silentLogger(), h1, h2)

	r.StartAttempt()
	r.EndAttempt("OK")
	r.End("OK")

	require.Len(t, h1.operations, 1)
	require.Len(t, h2.operations, 1)
}
