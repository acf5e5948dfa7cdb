package notify

import (
	"testing"
	"time"
)

func TestInprocBindConflict(t *testing.T) {
	factory := NewInprocSocketFactory()

	first, err := factory.NewPubSocket()
	if err != nil {
		t.Fatalf("NewPubSocket failed: %v", err)
	}
	defer first.Close()

	if err := first.Listen("inproc://bus"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	second, _ := factory.NewPubSocket()
	defer second.Close()
	if err := second.Listen("inproc://bus"); err == nil {
		t.Error("second Listen on the same address should fail")
	}

	// Closing the listener frees the address.
	first.Close()
	if err := second.Listen("inproc://bus"); err != nil {
		t.Errorf("Listen after close failed: %v", err)
	}
}

func TestInprocDialUnbound(t *testing.T) {
	factory := NewInprocSocketFactory()

	sub, err := factory.NewSubSocket()
	if err != nil {
		t.Fatalf("NewSubSocket failed: %v", err)
	}
	defer sub.Close()

	if err := sub.Dial("inproc://nowhere"); err == nil {
		t.Error("Dial of an unbound address should fail")
	}
}

func TestInprocTopicFilter(t *testing.T) {
	factory := NewInprocSocketFactory()

	pub, _ := factory.NewPubSocket()
	defer pub.Close()
	if err := pub.Listen("inproc://bus"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	sub, _ := factory.NewSubSocket()
	defer sub.Close()
	if err := sub.Dial("inproc://bus"); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := sub.Subscribe([]byte("PEER:")); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.SetRecvDeadline(50 * time.Millisecond); err != nil {
		t.Fatalf("SetRecvDeadline failed: %v", err)
	}

	if err := pub.Send([]byte("WAL:ignored")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := pub.Send([]byte("PEER:kept")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg, err := sub.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(msg) != "PEER:kept" {
		t.Errorf("Recv = %q, want the matching topic only", msg)
	}

	// The filtered message must not arrive at all.
	if extra, err := sub.Recv(); err == nil {
		t.Errorf("unexpected extra message %q", extra)
	}
}

func TestInprocRecvTimeout(t *testing.T) {
	factory := NewInprocSocketFactory()

	pub, _ := factory.NewPubSocket()
	defer pub.Close()
	if err := pub.Listen("inproc://bus"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	sub, _ := factory.NewSubSocket()
	defer sub.Close()
	if err := sub.Dial("inproc://bus"); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	sub.Subscribe([]byte(""))
	sub.SetRecvDeadline(20 * time.Millisecond)

	start := time.Now()
	if _, err := sub.Recv(); err == nil {
		t.Error("Recv on an idle socket should time out")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Recv blocked for %v, want roughly the deadline", elapsed)
	}
}

func TestInprocSurveyorWindow(t *testing.T) {
	factory := NewInprocSocketFactory()

	surveyor, err := factory.NewSurveyorSocket()
	if err != nil {
		t.Fatalf("NewSurveyorSocket failed: %v", err)
	}
	defer surveyor.Close()
	if err := surveyor.Listen("inproc://survey"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if err := surveyor.SetSurveyTime(30 * time.Millisecond); err != nil {
		t.Fatalf("SetSurveyTime failed: %v", err)
	}

	// Recv before any survey has no window to wait in.
	if _, err := surveyor.Recv(); err == nil {
		t.Error("Recv before Send should fail immediately")
	}

	respondent, err := factory.NewRespondentSocket()
	if err != nil {
		t.Fatalf("NewRespondentSocket failed: %v", err)
	}
	defer respondent.Close()
	if err := respondent.Dial("inproc://survey"); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	respondent.SetRecvDeadline(50 * time.Millisecond)

	if err := surveyor.Send([]byte("ping")); err != nil {
		t.Fatalf("survey Send failed: %v", err)
	}

	msg, err := respondent.Recv()
	if err != nil {
		t.Fatalf("respondent Recv failed: %v", err)
	}
	if string(msg) != "ping" {
		t.Errorf("respondent got %q, want ping", msg)
	}

	if err := respondent.Send([]byte("pong")); err != nil {
		t.Fatalf("respondent Send failed: %v", err)
	}

	reply, err := surveyor.Recv()
	if err != nil {
		t.Fatalf("surveyor Recv failed: %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("surveyor got %q, want pong", reply)
	}

	// After the window closes the next Recv errors out.
	if _, err := surveyor.Recv(); err == nil {
		t.Error("Recv after the survey window should fail")
	}
}
