//go:build zmq && !nng
// +build zmq,!nng

package main

import "github.com/tesseradb/replication/pkg/notify"

const transportName = "zmq"

func newSocketFactory() notify.SocketFactory {
	return notify.NewZMQSocketFactory()
}
