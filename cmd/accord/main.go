package main

import (
	"context"
	"os"

	"github.com/Dicklesworthstone/accord/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
