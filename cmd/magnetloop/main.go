package main

import (
	"os"

	"github.com/iuriikogan/magnet-loop/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
