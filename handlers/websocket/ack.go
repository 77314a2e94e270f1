package websocket

import (
	"fmt"
	"reflect"

	socketio "github.com/zishang520/socket.io/v2/socket"
)

// ackInvoker answers a client acknowledgement callback, whatever its Go signature.
type ackInvoker func(err error, payload map[string]any)

// extractAck splits a trailing acknowledgement callback off the event arguments.
func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	if ack = wrapAck(datas[len(datas)-1]); ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	fn := reflect.ValueOf(candidate)
	if fn.Kind() != reflect.Func {
		return nil
	}

	typ := fn.Type()
	return func(err error, payload map[string]any) {
		fn.Call(ackArgs(typ, err, payload))
	}
}

// ackArgs lays out (err, payload) for the callback. A single-parameter
// callback gets the error if there is one, otherwise the payload.
func ackArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	args := make([]reflect.Value, typ.NumIn())
	for i := range args {
		var v any
		switch {
		case len(args) == 1 && err != nil:
			v = err
		case len(args) == 1:
			v = payload
		case i == 0:
			v = err
		case i == 1:
			v = payload
		}
		args[i] = coerceValue(v, typ.In(i))
	}
	return args
}

func coerceValue(value any, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case rv.Type().ConvertibleTo(target):
		return rv.Convert(target)
	case target.Kind() == reflect.Interface && target.NumMethod() == 0:
		return rv
	case target.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(target)
	}

	if payload, ok := value.(map[string]any); ok && target.Kind() == reflect.Map && target.Key().Kind() == reflect.String {
		out := reflect.MakeMapWithSize(target, len(payload))
		for k, v := range payload {
			ev := reflect.ValueOf(v)
			if !ev.IsValid() {
				continue
			}
			if !ev.Type().AssignableTo(target.Elem()) {
				if !ev.Type().ConvertibleTo(target.Elem()) {
					continue
				}
				ev = ev.Convert(target.Elem())
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(target.Key()), ev)
		}
		return out
	}

	return reflect.Zero(target)
}

// respond answers the ack, if any, and mirrors the payload as event on the socket
// for clients that do not use acknowledgements.
func respond(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}
	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}

func okPayload(fields map[string]any) map[string]any {
	out := map[string]any{"status": "ok"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
	}
}
