package main

import (
	"fmt"
	"os"

	"github.com/michaelpento.lv/arbwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "arbwatch: %v\n", err)
		os.Exit(1)
	}
}
