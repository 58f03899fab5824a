package realtime

import "encoding/json"

type FrameType string

const (
	FrameInvocation FrameType = "invocation"
	FrameCompletion FrameType = "completion"
	FrameEvent      FrameType = "event"
)

// Hub methods the client invokes.
const (
	MethodAddToGroup      = "AddToGroup"
	MethodRemoveFromGroup = "RemoveFromGroup"
	MethodSendComment     = "SendComment"
)

// Events the hub pushes.
const (
	EventReceiveComment = "ReceiveComment"
	EventSend           = "Send"
)

// Frame is one JSON text message on the chat socket. Invocations carry an
// InvocationID that the matching completion echoes; Error is set on a failed
// completion.
type Frame struct {
	Type         FrameType         `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// CommentInput is the SendComment payload.
type CommentInput struct {
	ActivityID string `json:"activityId"`
	Body       string `json:"body"`
}

func encodeArgs(args ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}
