package main

import (
	"os"

	"github.com/engram-io/engram/fanoutworker"
)

func main() {
	if err := fanoutworker.Run(); err != nil {
		os.Exit(1)
	}
}
