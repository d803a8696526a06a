package session

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/wire"
)

// runPair runs a sender and a receiver session over a synchronous pipe and
// returns both outcomes.
func runPair(t *testing.T, content []byte, declaredSize uint64, sink Sink, policy Policy, opts ...Option) (sender, receiver Outcome) {
	t.Helper()

	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	recvDone := make(chan Outcome, 1)
	go func() {
		recvDone <- RunReceiver(receiverConn, sink, policy, opts...)
	}()

	sender = RunSender(senderConn, bytes.NewReader(content), "testfile.bin", declaredSize, opts...)
	senderConn.Close()

	select {
	case receiver = <-recvDone:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver session did not finish")
	}
	return sender, receiver
}

func TestRoundTripCompletes(t *testing.T) {
	content := bytes.Repeat([]byte("lanbeam"), 20_000) // > one copy buffer
	sink := newMemSink()

	senderOut, receiverOut := runPair(t, content, uint64(len(content)), sink, AcceptAll())

	require.Equal(t, StatusCompleted, senderOut.Status)
	require.Equal(t, StatusCompleted, receiverOut.Status)
	assert.Equal(t, uint64(len(content)), senderOut.Bytes)
	assert.Equal(t, uint64(len(content)), receiverOut.Bytes)

	entry := sink.entry("testfile.bin")
	require.NotNil(t, entry)
	assert.True(t, entry.isCommitted())
	assert.Equal(t, content, entry.bytes())
}

func TestEmptyFileCompletes(t *testing.T) {
	sink := newMemSink()

	senderOut, receiverOut := runPair(t, nil, 0, sink, AcceptAll())

	require.Equal(t, StatusCompleted, senderOut.Status)
	require.Equal(t, StatusCompleted, receiverOut.Status)
	assert.True(t, sink.entry("testfile.bin").isCommitted())
	assert.Empty(t, sink.entry("testfile.bin").bytes())
}

func TestPolicyRejectionIsCleanOnBothEnds(t *testing.T) {
	sink := newMemSink()

	senderOut, receiverOut := runPair(t, []byte("too big"), 7, sink, MaxSize(3))

	require.Equal(t, StatusRejected, senderOut.Status)
	require.Equal(t, StatusRejected, receiverOut.Status)
	assert.Contains(t, senderOut.Reason, "file too large")
	assert.Equal(t, senderOut.Reason, receiverOut.Reason)

	// Rejection happens before any destination is created.
	assert.Nil(t, sink.entry("testfile.bin"))
}

func TestSinkRefusalBecomesNack(t *testing.T) {
	sink := newMemSink()
	sink.createErr = errors.New("destination name busy")

	senderOut, receiverOut := runPair(t, []byte("x"), 1, sink, AcceptAll())

	require.Equal(t, StatusRejected, senderOut.Status)
	require.Equal(t, StatusRejected, receiverOut.Status)
	assert.Contains(t, senderOut.Reason, "busy")
}

// A SEND restating a different size than the HELLO is a protocol
// violation: the receiver aborts and nothing is committed.
func TestSendSizeMismatch(t *testing.T) {
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	sink := newMemSink()
	recvDone := make(chan Outcome, 1)
	go func() {
		recvDone <- RunReceiver(receiverConn, sink, AcceptAll())
	}()

	require.NoError(t, wire.WriteMessage(senderConn, wire.Hello{FileName: "liar.bin", FileSize: 10}))
	msg, err := wire.ReadMessage(senderConn)
	require.NoError(t, err)
	require.IsType(t, wire.Ack{}, msg)
	require.NoError(t, wire.WriteMessage(senderConn, wire.Send{FileSize: 20}))

	out := <-recvDone
	require.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrProtocolViolation)
	assert.False(t, sink.entry("liar.bin").isCommitted())
}

func TestUnexpectedFirstMessageAborts(t *testing.T) {
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	recvDone := make(chan Outcome, 1)
	go func() {
		recvDone <- RunReceiver(receiverConn, newMemSink(), AcceptAll())
	}()

	require.NoError(t, wire.WriteMessage(senderConn, wire.Ack{}))

	out := <-recvDone
	require.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrProtocolViolation)
}

// A receiver that accepts but never answers the HELLO within the timeout
// must produce a timeout failure, not an indefinite hang.
func TestSenderTimesOutOnSilentReceiver(t *testing.T) {
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	// Swallow the HELLO, then go silent.
	go func() {
		_, _ = wire.ReadMessage(receiverConn)
	}()

	out := RunSender(senderConn, bytes.NewReader([]byte("abc")), "slow.bin", 3,
		WithHandshakeTimeout(100*time.Millisecond))

	require.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrTimeout)
}

func TestReceiverTimesOutWhenSenderStallsMidStream(t *testing.T) {
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	sink := newMemSink()
	recvDone := make(chan Outcome, 1)
	go func() {
		recvDone <- RunReceiver(receiverConn, sink, AcceptAll(),
			WithHandshakeTimeout(time.Second),
			WithStallTimeout(100*time.Millisecond))
	}()

	require.NoError(t, wire.WriteMessage(senderConn, wire.Hello{FileName: "stall.bin", FileSize: 8}))
	msg, err := wire.ReadMessage(senderConn)
	require.NoError(t, err)
	require.IsType(t, wire.Ack{}, msg)
	require.NoError(t, wire.WriteMessage(senderConn, wire.Send{FileSize: 8}))
	_, err = senderConn.Write([]byte("1234")) // half the file, then stall
	require.NoError(t, err)

	out := <-recvDone
	require.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.False(t, sink.entry("stall.bin").isCommitted())
}

// A connection dropped mid-stream is a truncation failure on the receiver,
// never a silently short file.
func TestReceiverFailsOnEarlyClose(t *testing.T) {
	senderConn, receiverConn := net.Pipe()
	defer receiverConn.Close()

	sink := newMemSink()
	recvDone := make(chan Outcome, 1)
	go func() {
		recvDone <- RunReceiver(receiverConn, sink, AcceptAll())
	}()

	require.NoError(t, wire.WriteMessage(senderConn, wire.Hello{FileName: "cut.bin", FileSize: 100}))
	msg, err := wire.ReadMessage(senderConn)
	require.NoError(t, err)
	require.IsType(t, wire.Ack{}, msg)
	require.NoError(t, wire.WriteMessage(senderConn, wire.Send{FileSize: 100}))
	_, err = senderConn.Write([]byte("short"))
	require.NoError(t, err)
	senderConn.Close()

	out := <-recvDone
	require.Equal(t, StatusFailed, out.Status)
	assert.False(t, sink.entry("cut.bin").isCommitted())
}

func TestSenderFailsWhenSourceShorterThanDeclared(t *testing.T) {
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	recvDone := make(chan Outcome, 1)
	go func() {
		recvDone <- RunReceiver(receiverConn, newMemSink(), AcceptAll(),
			WithStallTimeout(200*time.Millisecond))
	}()

	out := RunSender(senderConn, bytes.NewReader([]byte("abc")), "short.bin", 10)
	require.Equal(t, StatusFailed, out.Status)
	require.Error(t, out.Err)
	senderConn.Close()

	recvOut := <-recvDone
	assert.Equal(t, StatusFailed, recvOut.Status)
}

func TestProgressCallbackReportsMonotonicTotals(t *testing.T) {
	content := bytes.Repeat([]byte("p"), 90_000)
	sink := newMemSink()

	var reports []uint64
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	recvDone := make(chan Outcome, 1)
	go func() {
		recvDone <- RunReceiver(receiverConn, sink, AcceptAll())
	}()

	out := RunSender(senderConn, bytes.NewReader(content), "testfile.bin", uint64(len(content)),
		WithProgress(func(n uint64) { reports = append(reports, n) }))
	require.Equal(t, StatusCompleted, out.Status)
	<-recvDone

	require.NotEmpty(t, reports)
	assert.Equal(t, uint64(len(content)), reports[len(reports)-1])
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1])
	}
}

func TestOutcomeStatusStrings(t *testing.T) {
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "rejected", StatusRejected.String())
	assert.Equal(t, "failed", StatusFailed.String())
}

func TestPolicyComposition(t *testing.T) {
	p := AllOf(MaxSize(100), PolicyFunc(func(name string, _ uint64) error {
		if name == "blocked" {
			return errors.New("name blocked")
		}
		return nil
	}))

	assert.NoError(t, p.Admit("ok", 50))
	assert.Error(t, p.Admit("ok", 200))
	assert.Error(t, p.Admit("blocked", 50))
}

// Guard against the receiver consuming bytes past the declared size: the
// sender streams exactly size bytes even when the source has more.
func TestSenderStopsAtDeclaredSize(t *testing.T) {
	sink := newMemSink()
	src := io.MultiReader(bytes.NewReader([]byte("exact")), bytes.NewReader([]byte("extra")))

	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	recvDone := make(chan Outcome, 1)
	go func() {
		recvDone <- RunReceiver(receiverConn, sink, AcceptAll())
	}()

	out := RunSender(senderConn, src, "exact.bin", 5)
	require.Equal(t, StatusCompleted, out.Status)

	recvOut := <-recvDone
	require.Equal(t, StatusCompleted, recvOut.Status)
	assert.Equal(t, []byte("exact"), sink.entry("exact.bin").bytes())
}
