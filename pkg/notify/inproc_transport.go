package notify

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errRecvTimeout = errors.New("inproc transport: recv timeout")

type inprocRole int

const (
	rolePub inprocRole = iota
	roleSub
	roleSurveyor
	roleRespondent
)

// InprocSocketFactory creates in-process sockets. Sockets created by the
// same factory share one fabric: a listener binds an address inside the
// factory and dialers connect to it by name. Used by single-binary
// deployments and by tests that need the bus without a network transport.
type InprocSocketFactory struct {
	mu        sync.Mutex
	listeners map[string]*inprocSocket
}

// NewInprocSocketFactory creates a factory with an empty fabric.
func NewInprocSocketFactory() *InprocSocketFactory {
	return &InprocSocketFactory{listeners: make(map[string]*inprocSocket)}
}

func (f *InprocSocketFactory) NewPubSocket() (ListenSocket, error) {
	return f.newSocket(rolePub), nil
}

func (f *InprocSocketFactory) NewSubSocket() (SubscribeSocket, error) {
	return f.newSocket(roleSub), nil
}

func (f *InprocSocketFactory) NewSurveyorSocket() (SurveySocket, error) {
	return f.newSocket(roleSurveyor), nil
}

func (f *InprocSocketFactory) NewRespondentSocket() (DialSocket, error) {
	return f.newSocket(roleRespondent), nil
}

func (f *InprocSocketFactory) newSocket(role inprocRole) *inprocSocket {
	return &inprocSocket{
		factory: f,
		role:    role,
		recvCh:  make(chan []byte, 128),
		closeCh: make(chan struct{}),
	}
}

func (f *InprocSocketFactory) register(addr string, s *inprocSocket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.listeners[addr]; ok {
		return fmt.Errorf("inproc transport: address %s already bound", addr)
	}
	f.listeners[addr] = s
	return nil
}

func (f *InprocSocketFactory) unregister(addr string, s *inprocSocket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners[addr] == s {
		delete(f.listeners, addr)
	}
}

func (f *InprocSocketFactory) connect(addr string, s *inprocSocket) error {
	f.mu.Lock()
	listener, ok := f.listeners[addr]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("inproc transport: nothing bound at %s", addr)
	}
	listener.addPeer(s)
	s.addPeer(listener)
	return nil
}

// inprocSocket is a channel-backed socket. Send fans out to connected
// peers; delivery drops when a peer's buffer is full, matching the lossy
// semantics of PUB/SUB over a real transport.
type inprocSocket struct {
	factory *InprocSocketFactory
	role    inprocRole

	mu          sync.Mutex
	addr        string
	peers       []*inprocSocket
	topics      [][]byte
	closed      bool
	recvTimeout time.Duration
	surveyTime  time.Duration
	surveyEnd   time.Time

	recvCh  chan []byte
	closeCh chan struct{}
}

func (s *inprocSocket) addPeer(p *inprocSocket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append(s.peers, p)
}

func (s *inprocSocket) Listen(addr string) error {
	if err := s.factory.register(addr, s); err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
	return nil
}

func (s *inprocSocket) Dial(addr string) error {
	return s.factory.connect(addr, s)
}

func (s *inprocSocket) Subscribe(topic []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, append([]byte(nil), topic...))
	return nil
}

func (s *inprocSocket) SetSurveyTime(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surveyTime = d
	return nil
}

func (s *inprocSocket) SetRecvDeadline(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvTimeout = d
	return nil
}

func (s *inprocSocket) SetSendDeadline(d time.Duration) error {
	return nil
}

func (s *inprocSocket) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("inproc transport: socket closed")
	}
	peers := append([]*inprocSocket(nil), s.peers...)
	if s.role == roleSurveyor {
		// Each survey opens a fresh response window.
		s.surveyEnd = time.Now().Add(s.surveyTime)
	}
	s.mu.Unlock()

	msg := append([]byte(nil), data...)
	for _, p := range peers {
		p.deliver(msg)
	}
	return nil
}

func (s *inprocSocket) deliver(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.role == roleSub && !s.matchesTopic(msg) {
		return
	}
	select {
	case s.recvCh <- msg:
	default:
	}
}

func (s *inprocSocket) matchesTopic(msg []byte) bool {
	for _, t := range s.topics {
		if bytes.HasPrefix(msg, t) {
			return true
		}
	}
	return false
}

func (s *inprocSocket) Recv() ([]byte, error) {
	s.mu.Lock()
	timeout := s.recvTimeout
	if s.role == roleSurveyor {
		remaining := time.Until(s.surveyEnd)
		if remaining <= 0 {
			s.mu.Unlock()
			return nil, errRecvTimeout
		}
		timeout = remaining
	}
	closeCh := s.closeCh
	s.mu.Unlock()

	var timerCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerCh = timer.C
	}

	select {
	case msg := <-s.recvCh:
		return msg, nil
	case <-timerCh:
		return nil, errRecvTimeout
	case <-closeCh:
		return nil, errors.New("inproc transport: socket closed")
	}
}

func (s *inprocSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	addr := s.addr
	s.mu.Unlock()
	if addr != "" {
		s.factory.unregister(addr, s)
	}
	return nil
}

// Ensure InprocSocketFactory implements SocketFactory
var _ SocketFactory = (*InprocSocketFactory)(nil)
