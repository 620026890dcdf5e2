package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnknown = errors.New("unknown")
)

// ContractError is the panic value raised when a caller breaks the contract
// of an API. These are bugs, not runtime conditions, so they are never
// returned as errors.
type ContractError struct {
	Message string
}

func (e *ContractError) Error() string {
	return "contract violation: " + e.Message
}

// Assert logs and panics with a *ContractError when cond is false.
func Assert(cond bool, msg string, args ...interface{}) {
	if cond {
		return
	}
	Fail(msg, args...)
}

// Fail logs and panics with a *ContractError unconditionally.
func Fail(msg string, args ...interface{}) {
	err := &ContractError{Message: fmt.Sprintf(msg, args...)}
	getLogger().Helper()
	getLogger().Error(err.Error())
	panic(err)
}
