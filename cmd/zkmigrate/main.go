package main

import (
	"github.com/clusterkit/zklocks/cmd/zkmigrate/commands"
)

func main() {
	commands.Execute()
}
