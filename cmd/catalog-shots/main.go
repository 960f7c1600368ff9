// catalog-shots finds product photos on shop pages and exports them as
// square catalog images.
//
// Usage:
//
//	catalog-shots scan <page-url> [--render] [--json]
//	catalog-shots preview <image-url> [--treatment=removeBackground] [--category=auto] [-o out.jpg]
//	catalog-shots batch <manifest.json|yaml> [--out=<dir>]
//	catalog-shots inspect <image-file> [--margin="5% 5% 5% 5%"] [--debug]
//	catalog-shots config init|show
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
