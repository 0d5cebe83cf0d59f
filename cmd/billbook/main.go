package main

import (
	"os"

	"github.com/billbook/billbook/cmd/billbook/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
