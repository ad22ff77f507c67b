package main

import (
	"os"

	"github.com/engram-io/engram/memoryservice"
)

func main() {
	if err := memoryservice.Run(); err != nil {
		os.Exit(1)
	}
}
