package core

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/common/log"

	"github.com/jabolina/must-go/types"
)

// JSONCodec implements EventCodec by tagging every wire envelope with a
// Kind string and JSON-encoding the concrete event, grounded on the
// teacher's json.Marshal(message)/json.Unmarshal(recv.Data, &m) framing
// in core/transport.go.
type JSONCodec struct{}

type envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

func (JSONCodec) Encode(ev types.Event) ([]byte, error) {
	kind := kindOf(ev)
	body, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("failed marshalling event %#v. %v", ev, err)
		return nil, fmt.Errorf("core: encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Body: body})
}

// EncodeAck/DecodeAck marshal the snapshot control plane's payload
// (spec.md §4.10), reusing the same JSON approach as Encode/Decode
// without the event-kind envelope, since AckPayload is the only body a
// TokenSnapshot/TokenAck record ever carries.
func (JSONCodec) EncodeAck(p AckPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Errorf("failed marshalling ack payload %#v. %v", p, err)
		return nil, fmt.Errorf("core: encode ack: %w", err)
	}
	return data, nil
}

func (JSONCodec) DecodeAck(data []byte) (AckPayload, error) {
	var p AckPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return AckPayload{}, fmt.Errorf("core: decode ack: %w", err)
	}
	return p, nil
}

func (JSONCodec) Decode(_ string, data []byte) (types.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("core: decode envelope: %w", err)
	}

	var ev types.Event
	switch env.Kind {
	case "send":
		ev = &types.SendEvent{}
	case "isend":
		ev = &types.ISendEvent{}
	case "recv":
		ev = &types.RecvEvent{}
	case "irecv":
		ev = &types.IRecvEvent{}
	case "recv_update":
		ev = &types.RecvUpdateEvent{}
	case "irecv_update":
		ev = &types.IRecvUpdateEvent{}
	case "start_persistent":
		ev = &types.StartPersistentEvent{}
	case "cancel":
		ev = &types.CancelEvent{}
	case "coll_all":
		ev = &types.CollAllEvent{}
	case "coll_root":
		ev = &types.CollRootEvent{}
	case "wait":
		ev = &types.WaitEvent{}
	case "completed_request":
		ev = &types.CompletedRequestEvent{}
	case "completed_requests":
		ev = &types.CompletedRequestsEvent{}
	case "finalize_notify":
		ev = &types.FinalizeNotifyEvent{}
	case "raise_panic":
		ev = &types.RaisePanicEvent{}
	case "break_request":
		ev = &types.BreakRequestEvent{}
	case "break_consume":
		ev = &types.BreakConsumeEvent{}
	default:
		return nil, fmt.Errorf("core: unknown event kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Body, ev); err != nil {
		return nil, fmt.Errorf("core: decode body for %s: %w", env.Kind, err)
	}
	return ev, nil
}

func kindOf(ev types.Event) string {
	switch ev.(type) {
	case *types.SendEvent:
		return "send"
	case *types.ISendEvent:
		return "isend"
	case *types.RecvEvent:
		return "recv"
	case *types.IRecvEvent:
		return "irecv"
	case *types.RecvUpdateEvent:
		return "recv_update"
	case *types.IRecvUpdateEvent:
		return "irecv_update"
	case *types.StartPersistentEvent:
		return "start_persistent"
	case *types.CancelEvent:
		return "cancel"
	case *types.CollAllEvent:
		return "coll_all"
	case *types.CollRootEvent:
		return "coll_root"
	case *types.WaitEvent:
		return "wait"
	case *types.CompletedRequestEvent:
		return "completed_request"
	case *types.CompletedRequestsEvent:
		return "completed_requests"
	case *types.FinalizeNotifyEvent:
		return "finalize_notify"
	case *types.RaisePanicEvent:
		return "raise_panic"
	case *types.BreakRequestEvent:
		return "break_request"
	case *types.BreakConsumeEvent:
		return "break_consume"
	default:
		return "unknown"
	}
}
