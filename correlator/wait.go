package correlator

import (
	"context"
	"fmt"
	"time"

	"socket-rpc/message"

	"go.uber.org/zap"
)

// Expected pairs an exception tag a call is prepared to receive with the
// function rebuilding the local error from the carried text.
type Expected struct {
	Tag string
	New func(text string) error
}

// Expect declares that a call may fail with the exception tagged tag.
func Expect(tag string, newErr func(text string) error) Expected {
	return Expected{Tag: tag, New: newErr}
}

// Wait blocks until the reply of call id arrives and returns its value.
//
// The deadline is fixed at entry, so looping past unexpected messages never
// extends it. A reply tagged resultTag (any tag when empty) must carry a value
// of type T. An exception matching one of expected, tried in order, is rebuilt
// and returned; other exceptions and messages are logged, reported as
// anomalies and skipped. The call is unregistered whatever the outcome.
// Cancellation of ctx is returned as ctx.Err(), never as ErrTimeout.
func Wait[T any](ctx context.Context, c *Correlator, id, resultTag string, expected ...Expected) (T, error) {
	var zero T
	v, ok := c.queues.Load(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	queue := v.(chan message.RpcMessage)
	defer c.retire(id)

	start := time.Now()
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
			return zero, fmt.Errorf("%w: no reply to %s after %s", ErrTimeout, id, time.Since(start).Round(time.Millisecond))
		case msg := <-queue:
			if exc, ok := msg.(*message.ExceptionMessage); ok {
				declared, err := c.rebuild(exc, expected)
				if err != nil {
					return zero, err
				}
				if declared {
					c.log.Error("cannot rebuild the exception",
						zap.String("id", id), zap.String("exception", exc.ExceptionName()))
					c.anomaly(Unrebuildable, exc)
					continue
				}
				c.log.Warn("received unexpected exception",
					zap.String("id", id), zap.String("exception", exc.ExceptionName()), zap.String("message", exc.Message()))
				c.anomaly(UnexpectedException, exc)
				continue
			}

			if resultTag == "" || msg.Type() == resultTag {
				if res, ok := msg.(interface{ Value() T }); ok {
					return res.Value(), nil
				}
				c.log.Error("reply does not carry the expected result",
					zap.String("id", id), zap.String("type", msg.Type()), zap.String("want", fmt.Sprintf("%T", zero)))
				c.anomaly(BadResult, msg)
				continue
			}

			c.log.Warn("received unexpected message", zap.String("id", id), zap.String("type", msg.Type()))
			c.anomaly(UnexpectedMessage, msg)
		}
	}
}

// rebuild returns the error of the first expected exception the message is
// assignable to. declared reports whether any expected entry matched, even
// if none of the matching constructors produced an error.
func (c *Correlator) rebuild(exc *message.ExceptionMessage, expected []Expected) (declared bool, err error) {
	for _, e := range expected {
		if !c.assignable(exc.ExceptionName(), e.Tag) {
			continue
		}
		declared = true
		if e.New == nil {
			continue
		}
		if rebuilt := e.New(exc.Message()); rebuilt != nil {
			return true, rebuilt
		}
	}
	return declared, nil
}
