package bootloader

import (
	"context"
	"time"

	"github.com/moffa90/go-busupdater/protocol"
	"github.com/moffa90/go-busupdater/transport"
)

// mockReply is one scripted answer of mockTransport.
type mockReply struct {
	resp []byte
	err  error
}

// mockTransport answers Send with scripted replies, then with fallback.
type mockTransport struct {
	replies  []mockReply
	fallback mockReply
	frames   [][]byte

	open       bool
	dead       bool // IsOpen reports false after an error
	opens      int
	closes     int
	restarts   int
	progDevs   []transport.Address
	seq        uint32
	seqCounter bool
}

func newMockTransport(replies ...mockReply) *mockTransport {
	return &mockTransport{
		replies:  replies,
		fallback: mockReply{resp: resultFrame(protocol.ResultSuccess)},
		open:     true,
	}
}

func resultFrame(r protocol.Result) []byte {
	return []byte{byte(protocol.CmdSendLastError), byte(r)}
}

func (m *mockTransport) Open(ctx context.Context) error {
	m.opens++
	m.open = true
	m.seq = 0
	return nil
}

func (m *mockTransport) Close() error {
	m.closes++
	m.open = false
	return nil
}

func (m *mockTransport) IsOpen() bool { return m.open }

func (m *mockTransport) Send(ctx context.Context, dst transport.Destination, asdu []byte) ([]byte, error) {
	m.frames = append(m.frames, append([]byte(nil), asdu...))
	m.seq++

	reply := m.fallback
	if len(m.replies) > 0 {
		reply = m.replies[0]
		m.replies = m.replies[1:]
	}
	if reply.err != nil && m.dead {
		m.open = false
	}
	return reply.resp, reply.err
}

func (m *mockTransport) Restart(ctx context.Context, dst transport.Destination) error {
	m.restarts++
	return nil
}

func (m *mockTransport) RestartToBootloader(ctx context.Context, dst transport.Destination, eraseCode, channel byte) (time.Duration, error) {
	return time.Millisecond, nil
}

func (m *mockTransport) ProgrammingModeDevices(ctx context.Context) ([]transport.Address, error) {
	return m.progDevs, nil
}

// seqTransport is a mockTransport that reports its sequence number.
type seqTransport struct {
	*mockTransport
}

func (s seqTransport) CurrentSequenceNumber() (uint32, bool) {
	return s.seq, s.open
}

// MockLogger records messages by level.
type MockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Warn(msg string, kv ...interface{}) {
	l.warnMsgs = append(l.warnMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.errorMsgs = append(l.errorMsgs, msg)
}
