package app

// Operation tracks a CLI command that may mutate the store. Operations are
// created in memory with ID=0. Only mutating commands persist them, as a
// job run, which also gives the next store snapshot its version.
type Operation struct {
	ID        int64
	Name      string
	Params    string
	State     string // "succeeded" or "failed"
	lastError string
}

// NewOperation creates a new in-memory operation.
func NewOperation(name, params string) *Operation {
	return &Operation{
		Name:   name,
		Params: params,
		State:  "succeeded",
	}
}

// Persisted returns true if this operation has been recorded in the store.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation failed with err's message.
func (op *Operation) Fail(err error) {
	if err == nil {
		return
	}
	op.State = "failed"
	op.lastError = err.Error()
}

// Detail is the text stored with the job run.
func (op *Operation) Detail() string {
	switch {
	case op.lastError != "" && op.Params != "":
		return op.Params + ": " + op.lastError
	case op.lastError != "":
		return op.lastError
	default:
		return op.Params
	}
}
