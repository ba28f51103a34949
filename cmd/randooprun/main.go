package main

import (
	"fmt"
	"os"

	"randooprun/pkg/logger"
)

func main() {
	err := newRootCmd().Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
