package config

import (
	"fmt"
	"os"
	"strings"
)

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// ExitIfError exits through Exitf when err is set, naming the failed step.
// A nil error is a no-op so mains can chain startup steps without branching.
func ExitIfError(step string, err error) {
	if err == nil {
		return
	}
	step = strings.TrimSpace(step)
	if step == "" {
		step = "fatal"
	}
	Exitf("%s: %v", step, err)
}
