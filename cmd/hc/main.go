package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gwtwod/humiocli/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := cmd.NewRootCommand(cmd.DefaultDeps())
	root.SetArgs(cmd.DefaultToSearch(root, os.Args[1:]))
	err := root.ExecuteContext(ctx)
	stop()

	code := cmd.ExitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var usage *cmd.UsageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, "Run 'hc --help' for usage.")
		}
	}
	os.Exit(code)
}
