package errors

import (
	"fmt"
	"os"
	"sync"
)

var (
	defaultHandler *ErrorHandler
	once           sync.Once
)

func GetDefaultHandler() (*ErrorHandler, error) {
	var err error
	once.Do(func() {
		defaultHandler, err = NewErrorHandler()
	})
	if err == nil && defaultHandler == nil {
		err = fmt.Errorf("error handler unavailable")
	}
	return defaultHandler, err
}

// HandleError reports err through the default handler and returns the exit
// code the process should terminate with.
func HandleError(err error) int {
	if err == nil {
		return ExitOK
	}
	if handler, handlerErr := GetDefaultHandler(); handlerErr == nil {
		handler.Handle(err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	return ExitCode(err)
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	defaultHandler = nil
	once = sync.Once{}
}
