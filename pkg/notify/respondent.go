package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/replication"
)

// StatusProvider reports this node's identity and queue census for survey
// responses. Identity must be filled even when the census fails, so the
// node still proves liveness.
type StatusProvider interface {
	Status(ctx context.Context) (SurveyResponse, error)
}

// LedgerStatus derives survey responses from the queue ledger.
type LedgerStatus struct {
	Self   replication.ServerName
	Queues QueueCensus
}

// QueueCensus is the slice of the queue ledger a status provider needs.
// *replication.QueueLedger satisfies it.
type QueueCensus interface {
	AllQueues(ctx context.Context, server replication.ServerName) ([]string, error)
}

var _ QueueCensus = (*replication.QueueLedger)(nil)

func (l LedgerStatus) Status(ctx context.Context) (SurveyResponse, error) {
	resp := SurveyResponse{Server: l.Self.String()}
	queues, err := l.Queues.AllQueues(ctx, l.Self)
	if err != nil {
		return resp, err
	}
	resp.Queues = len(queues)
	return resp, nil
}

// LivenessRespondent answers liveness surveys on behalf of this node.
// Single responsibility: respond to surveys.
type LivenessRespondent struct {
	socket       DialSocket
	surveyorAddr string
	status       StatusProvider
	recvTimeout  time.Duration
	logger       logging.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	runningMu    sync.Mutex
}

// RespondentConfig configures the liveness respondent.
type RespondentConfig struct {
	SurveyorAddr string
	RecvTimeout  time.Duration
}

// NewLivenessRespondent creates a respondent that answers surveys from the
// given surveyor address.
func NewLivenessRespondent(
	factory SocketFactory,
	config RespondentConfig,
	status StatusProvider,
	logger logging.Logger,
) (*LivenessRespondent, error) {
	socket, err := factory.NewRespondentSocket()
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

	return &LivenessRespondent{
		socket:       socket,
		surveyorAddr: config.SurveyorAddr,
		status:       status,
		recvTimeout:  timeout,
		logger:       logger.With(logging.Component("liveness-respondent")),
		stopCh:       make(chan struct{}),
	}, nil
}

// Start connects to the surveyor and begins answering surveys.
func (r *LivenessRespondent) Start() error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if r.running {
		return nil
	}

	if err := r.socket.Dial(r.surveyorAddr); err != nil {
		return err
	}

	if err := r.socket.SetRecvDeadline(r.recvTimeout); err != nil {
		r.socket.Close()
		return err
	}

	r.running = true
	r.wg.Add(1)
	go r.respondLoop()

	r.logger.Info("liveness respondent connected",
		logging.String("addr", r.surveyorAddr))
	return nil
}

// Stop stops the respondent.
func (r *LivenessRespondent) Stop() error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if !r.running {
		return nil
	}

	close(r.stopCh)
	r.running = false
	r.wg.Wait()
	r.socket.Close()

	r.logger.Info("liveness respondent stopped")
	return nil
}

func (r *LivenessRespondent) respondLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		// Wait for a survey.
		if _, err := r.socket.Recv(); err != nil {
			continue // Timeout
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.recvTimeout)
		resp, err := r.status.Status(ctx)
		cancel()
		if err != nil {
			// Respond anyway; silence would get this node declared dead.
			r.logger.Warn("queue census failed, responding with identity only",
				logging.Error(err))
		}
		resp.SentAt = nowMillis()

		data, err := json.Marshal(resp)
		if err != nil {
			r.logger.Error("failed to marshal survey response", logging.Error(err))
			continue
		}

		if err := r.socket.Send(data); err != nil {
			r.logger.Error("failed to send survey response", logging.Error(err))
		}
	}
}
