package message

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notFound struct{ name string }

func (e *notFound) Error() string         { return e.name + " missing" }
func (e *notFound) ExceptionType() string { return "NotFoundError" }

func TestExceptionWireNames(t *testing.T) {
	exc := NewException("NotFoundError", "missing", "abc")

	data, err := json.Marshal(exc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"socketrpc.ExceptionMessage","id":"abc","exceptionClassName":"NotFoundError","message":"missing"}`, string(data))

	var back ExceptionMessage
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ExceptionType, back.Type())
	assert.Equal(t, "abc", back.ID())
	assert.Equal(t, "NotFoundError", back.ExceptionName())
	assert.Equal(t, "missing", back.Message())
}

func TestExceptionWithoutMessage(t *testing.T) {
	data, err := json.Marshal(NewException("Boom", "", "1"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"message"`)

	var back ExceptionMessage
	require.NoError(t, json.Unmarshal(data, &back))
	assert.False(t, back.HasMessage())
}

func TestExceptionOf(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", &notFound{name: "bob"})
	exc := ExceptionOf(wrapped, "7")
	assert.Equal(t, "NotFoundError", exc.ExceptionName())
	assert.Equal(t, "bob missing", exc.Message())
	assert.Equal(t, "7", exc.ID())

	plain := ExceptionOf(fmt.Errorf("disk full"), "8")
	assert.Equal(t, GenericException, plain.ExceptionName())
	assert.Equal(t, "disk full", plain.Message())
}

func TestResultCarriesValue(t *testing.T) {
	res := NewResult("arith.Sum", "42", 42)
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"arith.Sum","id":"42","result":42}`, string(data))

	var back ResultMessage[int]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 42, back.Value())

	var _ RpcMessage = NewVoidResult("chat.PostResult", "1")
}

func TestTaggedErrorKeepsIdentity(t *testing.T) {
	errBusy := NewTaggedError("socketrpc.ServerBusy", "server busy")
	wrapped := fmt.Errorf("schedule: %w", errBusy)
	assert.ErrorIs(t, wrapped, errBusy)

	exc := ExceptionOf(wrapped, "3")
	assert.Equal(t, "socketrpc.ServerBusy", exc.ExceptionName())
	assert.Equal(t, "server busy", exc.Message())
}
