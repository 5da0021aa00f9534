// Command gridcache seeds a SQLite feature source and runs queries against
// it through a grid cache.
//
//	gridcache seed --db features.db --count 100000 --bounds -180,-90,180,90
//	gridcache query --db features.db --bbox 5,45,15,55 --grid 64x32 --repeat 3
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
