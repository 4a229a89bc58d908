// Package errors carries typed failure codes across the scheduler so
// callers can tell a transient cluster condition from a planner bug.
package errors

type CodedError struct {
	code Code
	error
}

func NewError(err error, code Code) *CodedError {
	if err == nil {
		return nil
	}
	return &CodedError{code, err}
}

func (e *CodedError) GetCode() Code {
	if e == nil {
		return OK
	}
	return e.code
}

// GetCode returns the code carried by err, or Internal for plain errors.
func GetCode(err error) Code {
	if err == nil {
		return OK
	}
	if ce, ok := err.(*CodedError); ok {
		return ce.GetCode()
	}
	return Internal
}
