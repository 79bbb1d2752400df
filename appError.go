package tchannel

import (
	"encoding/json"
)

// Application errors travel in the arg1 of an AppException response as a
// JSON envelope: {"$jsError": {name, message, stack, ...own props}}.
// Bare strings pass through unchanged in both directions. The envelope
// is the on-wire contract and must stay bit-exact across peers.

const jsErrorKey = "$jsError"

// AppError is a language-neutral application error as carried by the
// envelope. Fields holds any extra own-properties beyond name, message
// and stack.
type AppError struct {
	Name    string
	Message string
	Stack   string
	Fields  map[string]interface{}
}

// Error returns the message alone, matching the error text a caller on
// any peer observes.
func (e *AppError) Error() string {
	return e.Message
}

// StringError is a bare-string application error. It round-trips as a
// JSON string rather than an envelope object.
type StringError string

func (e StringError) Error() string {
	return string(e)
}

func marshalAppError(err error) ([]byte, error) {
	if se, ok := err.(StringError); ok {
		return json.Marshal(string(se))
	}

	ae, ok := err.(*AppError)
	if !ok {
		ae = &AppError{Name: "Error", Message: err.Error()}
	}

	obj := map[string]interface{}{
		"name":    ae.Name,
		"message": ae.Message,
	}
	if ae.Stack != "" {
		obj["stack"] = ae.Stack
	}
	for k, v := range ae.Fields {
		if _, reserved := obj[k]; !reserved {
			obj[k] = v
		}
	}

	return json.Marshal(map[string]interface{}{jsErrorKey: obj})
}

func unmarshalAppError(payload []byte) error {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return StringError(s)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil || len(envelope) != 1 {
		return StringError(payload)
	}

	raw, ok := envelope[jsErrorKey]
	if !ok {
		return StringError(payload)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return StringError(payload)
	}

	ae := &AppError{Name: "Error"}
	if name, ok := obj["name"].(string); ok {
		ae.Name = name
	}
	if msg, ok := obj["message"].(string); ok {
		ae.Message = msg
	}
	if stack, ok := obj["stack"].(string); ok {
		ae.Stack = stack
	}

	for k, v := range obj {
		switch k {
		case "name", "message", "stack":
		default:
			if ae.Fields == nil {
				ae.Fields = make(map[string]interface{})
			}
			ae.Fields[k] = v
		}
	}

	return ae
}
