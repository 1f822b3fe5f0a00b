package main

import (
	"os"

	"github.com/conneroisu/docsmith/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
