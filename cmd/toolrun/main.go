package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/toolrun/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "toolrun: %v\n", err)
		os.Exit(1)
	}
}
