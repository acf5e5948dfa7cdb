package notify

import (
	"fmt"
	"sync"

	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
)

// PeerChangeNotifier publishes peer changes to subscribed nodes.
// Single responsibility: fan-out peer changes to the cluster.
type PeerChangeNotifier struct {
	socket    ListenSocket
	addr      string
	stream    chan PeerChange
	logger    logging.Logger
	metrics   *metrics.Registry
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// NotifierConfig configures the peer change notifier.
type NotifierConfig struct {
	Address    string
	BufferSize int
}

// NewPeerChangeNotifier creates a notifier that publishes on the given
// address once started.
func NewPeerChangeNotifier(
	factory SocketFactory,
	config NotifierConfig,
	logger logging.Logger,
	m *metrics.Registry,
) (*PeerChangeNotifier, error) {
	socket, err := factory.NewPubSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}

	return &PeerChangeNotifier{
		socket:  socket,
		addr:    config.Address,
		stream:  make(chan PeerChange, bufSize),
		logger:  logger.With(logging.Component("peer-change-notifier")),
		metrics: m,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start binds the socket and begins publishing queued changes.
func (n *PeerChangeNotifier) Start() error {
	n.runningMu.Lock()
	defer n.runningMu.Unlock()

	if n.running {
		return fmt.Errorf("peer change notifier already running")
	}

	if err := n.socket.Listen(n.addr); err != nil {
		return fmt.Errorf("failed to bind PUB socket to %s: %w", n.addr, err)
	}

	n.running = true
	n.wg.Add(1)
	go n.publishLoop()

	n.logger.Info("peer change notifier started", logging.String("addr", n.addr))
	return nil
}

// Stop stops the notifier. Changes still queued are dropped.
func (n *PeerChangeNotifier) Stop() error {
	n.runningMu.Lock()
	defer n.runningMu.Unlock()

	if !n.running {
		return nil
	}

	close(n.stopCh)
	n.running = false
	n.wg.Wait()

	if err := n.socket.Close(); err != nil {
		n.logger.Warn("failed to close notifier socket", logging.Error(err))
	}

	n.logger.Info("peer change notifier stopped")
	return nil
}

// Broadcast queues a peer change for publishing. It never blocks on the
// transport; the publish loop drains the queue.
func (n *PeerChangeNotifier) Broadcast(change PeerChange) error {
	if change.SentAt == 0 {
		change.SentAt = nowMillis()
	}
	select {
	case n.stream <- change:
		return nil
	case <-n.stopCh:
		return fmt.Errorf("peer change notifier stopped")
	}
}

func (n *PeerChangeNotifier) publishLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.stopCh:
			return
		case change := <-n.stream:
			msg, err := encodeChange(change)
			if err != nil {
				n.logger.Error("failed to encode peer change", logging.Error(err))
				continue
			}
			if err := n.socket.Send(msg); err != nil {
				n.logger.Error("failed to publish peer change",
					logging.PeerID(change.PeerID),
					logging.String("kind", string(change.Kind)),
					logging.Error(err))
				continue
			}
			n.metrics.RecordNotificationSent(string(change.Kind))
		}
	}
}
