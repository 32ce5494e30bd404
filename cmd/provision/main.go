package main

import (
	"errors"
	"fmt"
	"os"

	proverrors "github.com/hostplane/provision/pkg/errors"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitCycleError   = 2
	exitActionFailed = 3
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error categories onto the documented exit codes so wrappers
// can distinguish a bad catalog from a failed apply.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var cycleErr *proverrors.CycleError
	if errors.As(err, &cycleErr) {
		return exitCycleError
	}

	var actionErr *proverrors.ActionError
	if errors.As(err, &actionErr) {
		return exitActionFailed
	}

	return exitConfigError
}
