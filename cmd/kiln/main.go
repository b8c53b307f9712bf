package main

import (
	"os"

	"github.com/vkngwrapper/kiln/cmd/kiln/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
