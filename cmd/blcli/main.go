package main

import (
	"github.com/robotalks/bootlink/pkg/cli/sh"
	"github.com/robotalks/bootlink/pkg/env"

	_ "github.com/robotalks/bootlink/pkg/cli/cmds/packet"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
