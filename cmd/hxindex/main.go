package main

import (
	"os"

	"hxindex/internal/ui/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
