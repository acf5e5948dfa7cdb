//go:build nng
// +build nng

package main

import "github.com/tesseradb/replication/pkg/notify"

const transportName = "nng"

func newSocketFactory() notify.SocketFactory {
	return notify.NewNNGSocketFactory()
}
