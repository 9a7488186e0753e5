package main

import (
	"errors"

	"createabunch/aggregate"
	"createabunch/collective"
	"createabunch/config"
	"createabunch/countlog"
	"createabunch/instances"
)

// Exit statuses
const (
	exitOK        = 0
	exitUsage     = 1
	exitNoLimit   = 2
	exitTarget    = 3
	exitExhausted = 4
	exitCreate    = 5
	exitRuntime   = 6
	exitOutput    = 7
)

// exitCode maps an error to the process exit status. An abort raised by
// another worker carries that worker's status
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var abort *collective.AbortError
	if errors.As(err, &abort) && abort.Code != exitOK {
		return abort.Code
	}
	switch {
	case errors.Is(err, config.ErrUsage):
		return exitUsage
	case errors.Is(err, config.ErrNoLimit):
		return exitNoLimit
	case errors.Is(err, instances.ErrMkdir):
		return exitTarget
	case errors.Is(err, countlog.ErrExhausted):
		return exitExhausted
	case errors.Is(err, instances.ErrCreate):
		return exitCreate
	case errors.Is(err, aggregate.ErrOutput):
		return exitOutput
	}
	return exitRuntime
}
