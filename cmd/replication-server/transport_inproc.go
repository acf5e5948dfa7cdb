//go:build !nng && !zmq
// +build !nng,!zmq

package main

import "github.com/tesseradb/replication/pkg/notify"

// Without a transport build tag the daemon falls back to the in-process
// fabric: the bus and survey still run, but only reach components inside
// this process. Build with -tags nng or -tags zmq for cross-node wiring.
const transportName = "inproc"

func newSocketFactory() notify.SocketFactory {
	return notify.NewInprocSocketFactory()
}
