package main

import (
	"os"

	"github.com/ayo6706/custodial-ledger/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
