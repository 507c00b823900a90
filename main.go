package main

import (
	_ "time/tzdata"

	"github.com/chrisdamba/trafficdatasim/cmd"
)

func main() {
	cmd.Execute()
}
