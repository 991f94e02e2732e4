package message

// ResultMessage carries the value of a successful call.
type ResultMessage[T any] struct {
	Envelope
	Result T `json:"result"`
}

// NewResult builds a result envelope with the given type tag for the call id.
func NewResult[T any](tag, id string, v T) *ResultMessage[T] {
	return &ResultMessage[T]{Envelope: NewEnvelope(tag, id), Result: v}
}

// Value unwraps the carried result.
func (m *ResultMessage[T]) Value() T { return m.Result }

// VoidResult is the reply of calls that return nothing.
type VoidResult = ResultMessage[struct{}]

// NewVoidResult builds a void result envelope.
func NewVoidResult(tag, id string) *VoidResult {
	return NewResult(tag, id, struct{}{})
}
