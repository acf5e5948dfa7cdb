// Package notify carries peer changes and replicator liveness between the
// processes of the local cluster. The coordination store stays the source
// of truth; this package only tells caches when to go back to it.
//
// Two paths are provided. The socket bus (PeerChangeNotifier publishing,
// PeerChangeListener subscribing) pushes change hints across processes, and
// the LivenessSurveyor broadcasts periodic surveys so dead replicators get
// their queues claimed. The StoreWatcher covers deployments without a
// socket transport by consuming the store's own change feed.
package notify

import (
	"errors"
	"io"
	"time"
)

// ErrSurveyUnsupported is returned by factories whose transport has no
// surveyor pattern.
var ErrSurveyUnsupported = errors.New("transport does not support the surveyor protocol")

// Socket is a messaging socket that can send and receive whole messages.
// It abstracts the underlying transport (NNG, ZeroMQ, or mock for testing).
type Socket interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// ListenSocket is a socket that binds to an address and accepts peers.
type ListenSocket interface {
	Socket
	Listen(addr string) error
}

// DialSocket is a socket that connects to a remote address.
type DialSocket interface {
	Socket
	Dial(addr string) error
}

// SubscribeSocket is a SUB socket that can filter by topic.
type SubscribeSocket interface {
	DialSocket
	Subscribe(topic []byte) error
}

// SurveySocket is a SURVEYOR socket with a per-round response window.
type SurveySocket interface {
	ListenSocket
	SetSurveyTime(d time.Duration) error
}

// SocketFactory creates the sockets the notification bus runs on.
// Implementations provide real NNG or ZeroMQ sockets, or in-process mocks
// for tests.
type SocketFactory interface {
	// Peer change fan-out
	NewPubSocket() (ListenSocket, error)
	NewSubSocket() (SubscribeSocket, error)

	// Replicator liveness
	NewSurveyorSocket() (SurveySocket, error)
	NewRespondentSocket() (DialSocket, error)
}
