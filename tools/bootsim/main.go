// Command bootsim runs the early boot stages of the kernel on the host
// against a machine description and simulated hardware, and prints what
// each stage produces.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var debug = flag.Bool("debug", false, "enable debug logging")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")

	subcommands.Register(new(Mmap), "memory")
	subcommands.Register(new(Alloc), "memory")
	subcommands.Register(new(GDT), "cpu")
	subcommands.Register(new(IDT), "cpu")
	subcommands.Register(new(PIC), "cpu")
	subcommands.Register(new(Trace), "")

	flag.Parse()

	logrus.SetOutput(os.Stderr)
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
