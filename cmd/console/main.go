package main

import (
	"context"
	"fmt"
	"os"

	"sozuri-connect/internal/console"
)

func main() {
	app := console.NewApp(os.Stdin, os.Stdout, os.Stderr)
	if err := console.NewRootCommand(app).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
