package correlator

import (
	"fmt"

	"socket-rpc/message"
)

// AnomalyKind classifies a message no caller could consume.
type AnomalyKind int

const (
	UnexpectedException AnomalyKind = iota // Exception the waiting call did not declare
	UnexpectedMessage                      // Reply of a type the waiting call does not expect
	BadResult                              // Reply of the expected type without a usable value
	UnknownID                              // No call is waiting for the id
	QueueFull                              // The call's queue overflowed
	Unrebuildable                          // Declared exception whose constructor returned nil
)

func (k AnomalyKind) String() string {
	switch k {
	case UnexpectedException:
		return "unexpected exception"
	case UnexpectedMessage:
		return "unexpected message"
	case BadResult:
		return "bad result"
	case UnknownID:
		return "unknown id"
	case QueueFull:
		return "queue full"
	case Unrebuildable:
		return "unrebuildable exception"
	default:
		return fmt.Sprintf("anomaly(%d)", int(k))
	}
}

// Anomaly is a message dropped by the correlator. Undeclared exceptions only
// surface here, since the call they belong to keeps waiting.
type Anomaly struct {
	Kind    AnomalyKind
	Message message.RpcMessage
}

func (a Anomaly) String() string {
	if exc, ok := a.Message.(*message.ExceptionMessage); ok {
		return fmt.Sprintf("%s for %s: %s: %s", a.Kind, exc.ID(), exc.ExceptionName(), exc.Message())
	}
	return fmt.Sprintf("%s for %s: %s", a.Kind, a.Message.ID(), a.Message.Type())
}
