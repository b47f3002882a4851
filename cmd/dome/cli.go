package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Chat      ChatCmd      `cmd:"" default:"withargs" help:"Start an interactive session"`
	Tools     ToolsCmd     `cmd:"" help:"List the tool catalog by agent"`
	Approvals ApprovalsCmd `cmd:"" help:"Show the approval log of a thread"`
	Slides    SlidesCmd    `cmd:"" help:"Render the slides of a presentation to PNG files"`
	Version   VersionCmd   `cmd:"" help:"Show version information"`
}

// Globals are flags shared by every command.
type Globals struct {
	Config  string `short:"c" type:"path" help:"Config file path (default: ./dome.toml)"`
	Verbose bool   `short:"v" help:"Enable debug logging"`
}

// ChatCmd runs the interactive REPL.
type ChatCmd struct {
	Thread string `short:"t" help:"Thread id to use (default: a new one)"`
}

// ToolsCmd lists tools.
type ToolsCmd struct{}

// ApprovalsCmd prints a thread's approval log.
type ApprovalsCmd struct {
	Thread string `arg:"" help:"Thread id"`
}

// SlidesCmd renders slide images.
type SlidesCmd struct {
	Artifact string `arg:"" help:"Presentation artifact id"`
	Out      string `short:"o" default:"." type:"path" help:"Output directory"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
