package main

import (
	"os"

	"solarforecast.org/cmd/sfactl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
