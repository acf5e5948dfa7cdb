package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/replication"
)

// RosterSource lists the replicators that currently hold queues. The queue
// ledger satisfies it.
type RosterSource interface {
	Replicators(ctx context.Context) ([]replication.ServerName, error)
}

var _ RosterSource = (*replication.QueueLedger)(nil)

// DeadReplicatorHandler is invoked once per survey round for each
// replicator declared dead. Returning an error keeps the replicator on the
// roster so the next round declares it again.
type DeadReplicatorHandler func(ctx context.Context, dead replication.ServerName) error

// LivenessSurveyor broadcasts liveness surveys to replicators and declares
// dead the ones that stay silent past the deadline.
// Single responsibility: detect dead replicators.
type LivenessSurveyor struct {
	socket     SurveySocket
	addr       string
	self       replication.ServerName
	roster     RosterSource
	onDead     DeadReplicatorHandler
	surveyTime time.Duration
	interval   time.Duration
	deadAfter  time.Duration
	logger     logging.Logger
	metrics    *metrics.Registry

	round    uint64
	lastSeen map[string]time.Time

	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// SurveyorConfig configures the liveness surveyor.
type SurveyorConfig struct {
	Address       string
	Self          replication.ServerName
	SurveyTimeout time.Duration
	Interval      time.Duration
	// DeadAfter is how long a replicator may stay silent before it is
	// declared dead. Must comfortably exceed Interval.
	DeadAfter time.Duration
}

// NewLivenessSurveyor creates a surveyor. onDead runs synchronously inside
// the survey loop, once per dead replicator per round.
func NewLivenessSurveyor(
	factory SocketFactory,
	config SurveyorConfig,
	roster RosterSource,
	onDead DeadReplicatorHandler,
	logger logging.Logger,
	m *metrics.Registry,
) (*LivenessSurveyor, error) {
	socket, err := factory.NewSurveyorSocket()
	if err != nil {
		return nil, err
	}

	surveyTime := config.SurveyTimeout
	if surveyTime <= 0 {
		surveyTime = 2 * time.Second
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadAfter := config.DeadAfter
	if deadAfter <= 0 {
		deadAfter = 3 * interval
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}

	return &LivenessSurveyor{
		socket:     socket,
		addr:       config.Address,
		self:       config.Self,
		roster:     roster,
		onDead:     onDead,
		surveyTime: surveyTime,
		interval:   interval,
		deadAfter:  deadAfter,
		logger:     logger.With(logging.Component("liveness-surveyor")),
		metrics:    m,
		lastSeen:   make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start begins the survey loop.
func (s *LivenessSurveyor) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return nil
	}

	if err := s.socket.Listen(s.addr); err != nil {
		return err
	}

	if err := s.socket.SetSurveyTime(s.surveyTime); err != nil {
		s.socket.Close()
		return err
	}

	s.running = true
	s.wg.Add(1)
	go s.surveyLoop()

	s.logger.Info("liveness surveyor started",
		logging.String("addr", s.addr),
		logging.Duration("interval", s.interval),
		logging.Duration("dead_after", s.deadAfter))
	return nil
}

// Stop stops the surveyor.
func (s *LivenessSurveyor) Stop() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return nil
	}

	close(s.stopCh)
	s.running = false
	s.wg.Wait()
	s.socket.Close()

	s.logger.Info("liveness surveyor stopped")
	return nil
}

func (s *LivenessSurveyor) surveyLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.conductSurvey()
		}
	}
}

func (s *LivenessSurveyor) conductSurvey() {
	s.round++
	survey := SurveyRequest{
		From:   s.self.String(),
		Round:  s.round,
		SentAt: nowMillis(),
	}

	data, err := json.Marshal(survey)
	if err != nil {
		s.logger.Error("failed to marshal survey", logging.Error(err))
		return
	}

	if err := s.socket.Send(data); err != nil {
		s.logger.Error("failed to send survey", logging.Error(err))
		return
	}

	// Collect responses until the survey window closes.
	now := time.Now()
	responded := 0
	for {
		msg, err := s.socket.Recv()
		if err != nil {
			break // Window expired or no more responses
		}

		var resp SurveyResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			s.logger.Warn("dropping unparsable survey response", logging.Error(err))
			continue
		}

		s.lastSeen[resp.Server] = now
		responded++
	}

	dead := s.declareDead(now)
	s.metrics.RecordSurveyRound(dead)

	if responded > 0 || dead > 0 {
		s.logger.Debug("survey round complete",
			logging.Uint64("round", s.round),
			logging.Int("responded", responded),
			logging.Int("dead", dead))
	}
}

// declareDead walks the ledger roster and hands silent replicators to the
// dead handler. A replicator first observed this round gets a full
// deadAfter window before it can be declared.
func (s *LivenessSurveyor) declareDead(now time.Time) int {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	servers, err := s.roster.Replicators(ctx)
	if err != nil {
		s.logger.Error("failed to list replicators for liveness check",
			logging.Error(err))
		return 0
	}

	onRoster := make(map[string]bool, len(servers))
	dead := 0
	for _, server := range servers {
		name := server.String()
		onRoster[name] = true
		if server == s.self {
			continue
		}

		seen, ok := s.lastSeen[name]
		if !ok {
			s.lastSeen[name] = now
			continue
		}
		if now.Sub(seen) <= s.deadAfter {
			continue
		}

		s.logger.Warn("declaring replicator dead",
			logging.Replicator(name),
			logging.Duration("silent_for", now.Sub(seen)))
		dead++

		if s.onDead == nil {
			continue
		}
		if err := s.onDead(ctx, server); err != nil {
			s.logger.Error("dead replicator handler failed",
				logging.Replicator(name),
				logging.Error(err))
			continue
		}
		delete(s.lastSeen, name)
	}

	// Forget replicators that left the ledger so the map cannot grow
	// without bound.
	for name := range s.lastSeen {
		if !onRoster[name] {
			delete(s.lastSeen, name)
		}
	}

	return dead
}
