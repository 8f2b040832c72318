package main

import (
	"fmt"
	"os"

	"catalogpolicy/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "policyctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
