package main

import (
	"github.com/sidkik/devsync/cmd"
	"github.com/sidkik/devsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
