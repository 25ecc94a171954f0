package main

import (
	"fmt"
	"os"

	"github.com/scoutnet/scoutnet/cmd/scoutnet/commands"
	"github.com/scoutnet/scoutnet/internal/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError(err))
		os.Exit(1)
	}
}
