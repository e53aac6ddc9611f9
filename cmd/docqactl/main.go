package main

import (
	"os"

	"github.com/kirillkom/docqa/internal/adapters/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRootCmd(cli.Options{Version: version}).Execute(); err != nil {
		os.Exit(1)
	}
}
