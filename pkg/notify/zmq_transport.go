//go:build zmq
// +build zmq

package notify

import (
	"time"

	zmq "github.com/pebbe/zmq4"
)

// zmqSocket wraps a ZeroMQ socket to implement our Socket interface.
type zmqSocket struct {
	sock *zmq.Socket
}

func (s *zmqSocket) Send(data []byte) error {
	_, err := s.sock.SendBytes(data, 0)
	return err
}

func (s *zmqSocket) Recv() ([]byte, error) {
	return s.sock.RecvBytes(0)
}

func (s *zmqSocket) Close() error {
	return s.sock.Close()
}

func (s *zmqSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetRcvtimeo(d)
}

func (s *zmqSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetSndtimeo(d)
}

func (s *zmqSocket) Listen(addr string) error {
	return s.sock.Bind(addr)
}

func (s *zmqSocket) Dial(addr string) error {
	return s.sock.Connect(addr)
}

// zmqSubSocket adds subscription capability.
type zmqSubSocket struct {
	zmqSocket
}

func (s *zmqSubSocket) Subscribe(topic []byte) error {
	return s.sock.SetSubscribe(string(topic))
}

// ZMQSocketFactory creates ZeroMQ sockets for the peer change bus. ZeroMQ
// has no surveyor pattern, so deployments on this transport run liveness
// detection through the store watcher or the NNG factory instead.
type ZMQSocketFactory struct{}

// NewZMQSocketFactory creates a new ZeroMQ socket factory.
func NewZMQSocketFactory() *ZMQSocketFactory {
	return &ZMQSocketFactory{}
}

func (f *ZMQSocketFactory) NewPubSocket() (ListenSocket, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (f *ZMQSocketFactory) NewSubSocket() (SubscribeSocket, error) {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	return &zmqSubSocket{zmqSocket{sock: sock}}, nil
}

func (f *ZMQSocketFactory) NewSurveyorSocket() (SurveySocket, error) {
	return nil, ErrSurveyUnsupported
}

func (f *ZMQSocketFactory) NewRespondentSocket() (DialSocket, error) {
	return nil, ErrSurveyUnsupported
}

// Ensure ZMQSocketFactory implements SocketFactory
var _ SocketFactory = (*ZMQSocketFactory)(nil)
