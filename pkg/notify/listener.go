package notify

import (
	"context"
	"sync"
	"time"

	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/replication"
)

// PeerView is the slice of the peer registry a listener needs to keep a
// node's cache current. *replication.Registry satisfies it.
type PeerView interface {
	Track(ctx context.Context, id string) error
	Untrack(id string)
	RefreshState(ctx context.Context, id string) error
	RefreshConfig(ctx context.Context, id string) error
}

var _ PeerView = (*replication.Registry)(nil)

// PeerChangeListener subscribes to peer changes from a notifier and applies
// them to the local peer cache.
// Single responsibility: receive and apply peer changes.
type PeerChangeListener struct {
	socket       SubscribeSocket
	notifierAddr string
	view         PeerView
	recvTimeout  time.Duration
	logger       logging.Logger
	metrics      *metrics.Registry
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	runningMu    sync.Mutex
}

// ListenerConfig configures the peer change listener.
type ListenerConfig struct {
	NotifierAddr string
	RecvTimeout  time.Duration
}

// NewPeerChangeListener creates a listener that applies changes to the
// given peer view.
func NewPeerChangeListener(
	factory SocketFactory,
	config ListenerConfig,
	view PeerView,
	logger logging.Logger,
	m *metrics.Registry,
) (*PeerChangeListener, error) {
	socket, err := factory.NewSubSocket()
	if err != nil {
		return nil, err
	}

	timeout := config.RecvTimeout
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}

	return &PeerChangeListener{
		socket:       socket,
		notifierAddr: config.NotifierAddr,
		view:         view,
		recvTimeout:  timeout,
		logger:       logger.With(logging.Component("peer-change-listener")),
		metrics:      m,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start connects to the notifier and begins applying changes.
func (l *PeerChangeListener) Start() error {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()

	if l.running {
		return nil
	}

	if err := l.socket.Dial(l.notifierAddr); err != nil {
		return err
	}

	if err := l.socket.Subscribe([]byte(peerTopic)); err != nil {
		l.socket.Close()
		return err
	}

	if err := l.socket.SetRecvDeadline(l.recvTimeout); err != nil {
		l.socket.Close()
		return err
	}

	l.running = true
	l.wg.Add(1)
	go l.listenLoop()

	l.logger.Info("peer change listener connected",
		logging.String("addr", l.notifierAddr))
	return nil
}

// Stop stops the listener.
func (l *PeerChangeListener) Stop() error {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()

	if !l.running {
		return nil
	}

	close(l.stopCh)
	l.running = false
	l.wg.Wait()
	l.socket.Close()

	l.logger.Info("peer change listener stopped")
	return nil
}

func (l *PeerChangeListener) listenLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		msg, err := l.socket.Recv()
		if err != nil {
			continue // Timeout
		}

		change, err := decodeChange(msg)
		if err != nil {
			l.logger.Warn("dropping undecodable peer change", logging.Error(err))
			continue
		}

		l.apply(change)
	}
}

// apply routes one change to the peer view. Changes are advisory: the view
// re-reads the store, so a lost or reordered message costs freshness, not
// correctness.
func (l *PeerChangeListener) apply(change PeerChange) {
	ctx, cancel := context.WithTimeout(context.Background(), l.recvTimeout*4)
	defer cancel()

	var err error
	switch change.Kind {
	case ChangeAdded:
		err = l.view.Track(ctx, change.PeerID)
	case ChangeRemoved:
		l.view.Untrack(change.PeerID)
	case ChangeEnabled, ChangeDisabled:
		err = l.view.RefreshState(ctx, change.PeerID)
		if replication.IsPeerNotFound(err) {
			// The peer raced into existence after our last refresh.
			err = l.view.Track(ctx, change.PeerID)
		}
	case ChangeConfig:
		err = l.view.RefreshConfig(ctx, change.PeerID)
		if replication.IsPeerNotFound(err) {
			// The peer raced into existence after our last refresh.
			err = l.view.Track(ctx, change.PeerID)
		}
	default:
		l.logger.Warn("unknown peer change kind",
			logging.String("kind", string(change.Kind)),
			logging.PeerID(change.PeerID))
		return
	}

	if err != nil {
		l.logger.Error("failed to apply peer change",
			logging.PeerID(change.PeerID),
			logging.String("kind", string(change.Kind)),
			logging.Error(err))
		return
	}

	l.metrics.RecordNotificationReceived(string(change.Kind))
	l.logger.Debug("applied peer change",
		logging.PeerID(change.PeerID),
		logging.String("kind", string(change.Kind)))
}
