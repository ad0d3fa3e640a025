// guildwire - chat platform client: REST dispatcher, gateway session and
// guild snapshot cache behind a small CLI.
package main

import (
	"os"

	"github.com/guildwire/guildwire/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
