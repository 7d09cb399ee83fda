package main

import (
	"context"
	"os"

	"github.com/hamed0406/uptimed/internal/cli"
)

// set via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(cli.Execute(context.Background(), version, os.Args[1:]))
}
