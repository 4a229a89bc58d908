package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/granitedata/granite/scheduler/cli"
)

func main() {
	client, err := cli.NewSimpleCLIClient()
	if err != nil {
		log.Fatalf("Failed to initialize schedtool: %v", err)
	}
	if err := client.Exec(); err != nil {
		log.Fatalf("schedtool error: %v", err)
	}
}
