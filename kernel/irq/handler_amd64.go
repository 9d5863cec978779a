package irq

import (
	"boxos/kernel"
	"boxos/kernel/kfmt"
)

// ExceptionNum defines an exception number that can be
// passed to the HandleException and HandleExceptionWithCode
// functions.
type ExceptionNum uint8

const (
	// DoubleFault occurs when an exception is unhandled
	// or when an exception occurs while the CPU is
	// trying to call an exception handler.
	DoubleFault = ExceptionNum(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a PDT or
	// PDT-entry is not present or when a privilege
	// and/or RW protection check fails.
	PageFaultException = ExceptionNum(14)
)

// exceptionVectorCount mirrors the 32 CPU-reserved interrupt vectors.
const exceptionVectorCount = 32

// errorCodeVectors lists the exception vectors for which the CPU pushes an
// error code onto the stack, per spec.md §9's design note.
var errorCodeVectors = map[ExceptionNum]bool{
	8: true, 10: true, 11: true, 12: true, 13: true, 14: true, 17: true, 30: true,
}

// ExceptionHandler is a function that handles an exception that does not push
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode is a function that handles an exception that pushes
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandlerWithCode func(uint64, *Frame, *Regs)

var (
	exceptionHandlers         [exceptionVectorCount]ExceptionHandler
	exceptionHandlersWithCode [exceptionVectorCount]ExceptionHandlerWithCode

	// exceptionCount tracks the total number of CPU exceptions dispatched,
	// per spec.md §4.3.
	exceptionCount uint64

	unhandledExceptionErr = &kernel.Error{Module: "irq", Message: "unhandled CPU exception"}
)

// HandleException registers an exception handler (without an error code) for
// the given interrupt number.
func HandleException(exceptionNum ExceptionNum, handler ExceptionHandler) {
	exceptionHandlers[exceptionNum] = handler
}

// HandleExceptionWithCode registers an exception handler (with an error code)
// for the given interrupt number.
func HandleExceptionWithCode(exceptionNum ExceptionNum, handler ExceptionHandlerWithCode) {
	exceptionHandlersWithCode[exceptionNum] = handler
}

// ExceptionCount returns the number of CPU exceptions dispatched so far.
func ExceptionCount() uint64 {
	return exceptionCount
}

// DispatchException is invoked by the common interrupt stub for vectors
// 0-31. It increments exceptionCount, routes to the handler registered for
// vector via HandleException/HandleExceptionWithCode, and panics if no
// handler is registered, per spec.md §4.3 ("All other exceptions print the
// full frame and panic").
func DispatchException(vector uint8, errorCode uint64, frame *Frame, regs *Regs) {
	exceptionCount++

	num := ExceptionNum(vector)
	if errorCodeVectors[num] {
		if handler := exceptionHandlersWithCode[num]; handler != nil {
			handler(errorCode, frame, regs)
			return
		}
	} else if handler := exceptionHandlers[num]; handler != nil {
		handler(frame, regs)
		return
	}

	kfmt.Printf("\nunhandled CPU exception %d (error code: %d)\n", vector, errorCode)
	regs.Print()
	frame.Print()
	kfmt.Panic(unhandledExceptionErr)
}
