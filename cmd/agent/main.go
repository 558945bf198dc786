package main

import (
	"log"

	"github.com/framelapse/framelapse-agent/internal/cli"
	"github.com/framelapse/framelapse-agent/internal/config"
)

func main() {
	if err := cli.NewRootCommand(config.Version).Execute(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
