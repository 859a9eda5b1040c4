package main

import (
	"os"
	_ "time/tzdata"

	"github.com/gmsas95/medtrack/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	os.Exit(cli.Execute())
}
