package main

import (
	"fmt"
	"os"

	"github.com/fzft/go-echo-poll/cmd"
)

func main() {
	if err := cmd.NewWrapper(Version()).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
