package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Field helpers for the identifiers this plane deals in

func Component(name string) Field {
	return String("component", name)
}

func PeerID(id string) Field {
	return String("peer_id", id)
}

func Replicator(name string) Field {
	return String("replicator", name)
}

func Queue(id string) Field {
	return String("queue_id", id)
}

func WAL(name string) Field {
	return String("wal", name)
}

func Position(pos int64) Field {
	return Int64("position", pos)
}

func ProcedureID(id string) Field {
	return String("procedure_id", id)
}

func Operation(op string) Field {
	return String("operation", op)
}

func State(s string) Field {
	return String("state", s)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func StoreKey(k string) Field {
	return String("key", k)
}
