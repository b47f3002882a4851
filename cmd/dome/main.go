// Command dome is a study assistant that answers in a chat, delegates work to
// research, library, writer and data agents, and asks before it changes
// anything.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("dome"),
		kong.Description("Study assistant with supervised subagents."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func (c *VersionCmd) Run(_ *Globals) error {
	fmt.Printf("dome version %s\n", version)
	return nil
}
