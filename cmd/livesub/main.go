package main

import (
	"context"
	"fmt"
	"os"

	"github.com/JeesubKim/live-trans-sub000/cli"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "livesub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cli.Version = version
	deps := &cli.Dependencies{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Stdin:  os.Stdin,
	}
	return cli.NewRootCmd(deps).ExecuteContext(context.Background())
}
