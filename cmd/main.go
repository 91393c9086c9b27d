package main

import (
	"github.com/dyike/CortexFlow/internal/cli"
)

func main() {
	cli.Run()
}
