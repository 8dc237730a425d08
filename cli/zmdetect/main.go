// Package main is the zm_detect command itself.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/zmeventnotification/zmdetect/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args)
	stop()
	os.Exit(cli.ExitCode(err))
}
