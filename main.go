package main

import (
	"log"

	"economy-engine/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}
