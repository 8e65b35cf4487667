package command

import (
	"os"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/vbrowser-pool/controller/command/daemon"
)

// program version
var version = "v0.1.0"

// Command parses the command line arguments and then executes a subcommand program.
func Command() {
	app := kingpin.New("vbrowser-pool", "virtual browser pool controller")
	daemon.Register(app)

	kingpin.Version(version)
	kingpin.MustParse(app.Parse(os.Args[1:]))
}
