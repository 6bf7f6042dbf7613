// Package j1939 packs contained parameter groups into J1939-22 multi PG
// frames and hands J1939 parameter groups to the transport layer.
package j1939

import (
	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/object"
)

// Transport is the J1939-21 transport layer. J1939 parameter groups are
// sent through it instead of being written to the channel directly, frame
// is the final frame including injected faults.
type Transport interface {
	Send(channel int, obj *object.Object, frame cansim.Frame) error
}

type TransportFunc func(channel int, obj *object.Object, frame cansim.Frame) error

func (f TransportFunc) Send(channel int, obj *object.Object, frame cansim.Frame) error {
	return f(channel, obj, frame)
}
