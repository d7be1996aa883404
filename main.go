package main

import (
	"fmt"
	"os"

	"vidsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vidsync:", err)
		os.Exit(1)
	}
}
