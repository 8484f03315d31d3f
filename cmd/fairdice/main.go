package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Serve   ServeCmd         `cmd:"" help:"Run the wager settlement server"`
	Commit  CommitCmd        `cmd:"" help:"Derive a commitment hash for a guess"`
	Verify  VerifyCmd        `cmd:"" help:"Recompute a settlement outcome for audit"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("fairdice"),
		kong.Description("Commit-reveal dice wager settlement engine"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
