package fault

import (
	"bytes"
	"fmt"

	cansim "github.com/openxilenv/cansim"
	"github.com/vmihailenco/msgpack/v5"
)

// Message kinds of the inter-process fault channel
const (
	MsgActivate   = "activate"
	MsgDeactivate = "deactivate"
	MsgQuery      = "query"
)

type Message struct {
	Kind       string      `msgpack:"kind"`
	Descriptor *Descriptor `msgpack:"descriptor,omitempty"`
}

type Reply struct {
	Kind   string `msgpack:"kind"`
	Error  string `msgpack:"error,omitempty"`
	Status Status `msgpack:"status"`
}

func EncodeMessage(msg Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := msgpack.NewEncoder(buf)
	if err := enc.Encode(&msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeReply(raw []byte) (Reply, error) {
	var reply Reply
	err := msgpack.NewDecoder(bytes.NewReader(raw)).Decode(&reply)
	return reply, err
}

// HandleMessage executes a msgpack encoded message and returns the encoded
// reply. Unknown kinds are logged and ignored, they get no reply.
func (inj *Injector) HandleMessage(raw []byte) ([]byte, error) {
	var msg Message
	if err := msgpack.NewDecoder(bytes.NewReader(raw)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w : malformed fault message : %v", cansim.ErrIllegalArgument, err)
	}
	reply := Reply{Kind: msg.Kind}
	switch msg.Kind {
	case MsgActivate:
		if msg.Descriptor == nil {
			reply.Error = "missing descriptor"
		} else if err := inj.Activate(*msg.Descriptor); err != nil {
			reply.Error = err.Error()
		}
	case MsgDeactivate:
		inj.Reset()
	case MsgQuery:
	default:
		inj.logger.Warnf("ignoring unknown message %q", msg.Kind)
		return nil, nil
	}
	reply.Status = inj.Query()
	buf := new(bytes.Buffer)
	if err := msgpack.NewEncoder(buf).Encode(&reply); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
