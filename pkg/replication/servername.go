package replication

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerName identifies one replicator process: hostname, port and the
// start code that distinguishes successive incarnations on the same
// host/port. The canonical form "host,port,startcode" is used as the
// replicator's key in the queue ledger and embedded into recovered queue
// ids.
type ServerName struct {
	Host      string
	Port      int
	StartCode int64
}

// NewServerName builds a ServerName from its parts.
func NewServerName(host string, port int, startCode int64) ServerName {
	return ServerName{Host: strings.ToLower(host), Port: port, StartCode: startCode}
}

// ParseServerName parses the canonical "host,port,startcode" form.
func ParseServerName(name string) (ServerName, error) {
	parts := strings.Split(name, ",")
	if len(parts) != 3 {
		return ServerName{}, fmt.Errorf("invalid server name %q: want host,port,startcode", name)
	}
	if parts[0] == "" {
		return ServerName{}, fmt.Errorf("invalid server name %q: empty host", name)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return ServerName{}, fmt.Errorf("invalid server name %q: bad port %q", name, parts[1])
	}
	startCode, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || startCode < 0 {
		return ServerName{}, fmt.Errorf("invalid server name %q: bad start code %q", name, parts[2])
	}
	return ServerName{Host: strings.ToLower(parts[0]), Port: port, StartCode: startCode}, nil
}

// String returns the canonical form.
func (s ServerName) String() string {
	return s.Host + "," + strconv.Itoa(s.Port) + "," + strconv.FormatInt(s.StartCode, 10)
}

// IsZero reports whether the name is unset.
func (s ServerName) IsZero() bool {
	return s.Host == "" && s.Port == 0 && s.StartCode == 0
}

// QueueInfo is the decomposition of a queue id. A fresh queue's id is just
// the peer id it feeds. Each claim appends "-<sourceServer>" to the id, so
// a twice-recovered queue reads "<peerId>-<firstDead>-<secondDead>" and
// DeadServers lists the provenance chain oldest first.
type QueueInfo struct {
	QueueID     string
	PeerID      string
	DeadServers []ServerName
	Recovered   bool
}

// ParseQueueID decomposes a queue id into the peer id and the chain of
// dead servers it was claimed from.
//
// Hostnames may themselves contain hyphens, so a "-" only terminates a
// server name once both commas of "host,port,startcode" have been seen.
func ParseQueueID(queueID string) (QueueInfo, error) {
	info := QueueInfo{QueueID: queueID}
	dash := strings.IndexByte(queueID, '-')
	if dash < 0 {
		info.PeerID = queueID
		return info, nil
	}
	if dash == 0 {
		return info, fmt.Errorf("invalid queue id %q: empty peer id", queueID)
	}

	info.PeerID = queueID[:dash]
	info.Recovered = true

	chain := queueID[dash+1:]
	seenCommas := 0
	start := 0
	for i := 0; i < len(chain); i++ {
		switch chain[i] {
		case ',':
			seenCommas++
		case '-':
			if seenCommas >= 2 && i > start {
				sn, err := ParseServerName(chain[start:i])
				if err != nil {
					return info, fmt.Errorf("invalid queue id %q: %w", queueID, err)
				}
				info.DeadServers = append(info.DeadServers, sn)
				start = i + 1
				seenCommas = 0
			}
		}
	}
	if start >= len(chain) {
		return info, fmt.Errorf("invalid queue id %q: trailing separator", queueID)
	}
	sn, err := ParseServerName(chain[start:])
	if err != nil {
		return info, fmt.Errorf("invalid queue id %q: %w", queueID, err)
	}
	info.DeadServers = append(info.DeadServers, sn)
	return info, nil
}

// RecoveredQueueID derives the id a queue takes when target claims it away
// from source.
func RecoveredQueueID(queueID string, source ServerName) string {
	return queueID + "-" + source.String()
}
