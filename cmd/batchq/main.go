// Command batchq runs the batch task-processing engine as a service: it
// restores persisted queue state, starts the worker pool, and exposes the
// HTTP control surface for submission, status, and export.
package main

import (
	"fmt"
	"os"
)

func main() {
	app, err := newApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchq: %v\n", err)
		os.Exit(1)
	}
	if err := app.run(); err != nil {
		fmt.Fprintf(os.Stderr, "batchq: %v\n", err)
		os.Exit(1)
	}
}
