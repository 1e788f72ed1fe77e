package main

import (
	"log"

	"github.com/cranesched/pluginhook/cmd/hookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
