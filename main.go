package main

import (
	"log"
	"os"

	"github.com/thiagokokada/gitpatcher-go/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Printf("gitpatcher-go: %v", err)
		os.Exit(cmd.ExitCode(err))
	}
}
