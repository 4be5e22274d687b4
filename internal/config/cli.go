package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/gatetun/gatetun/internal/tunnel"
)

// CLIArgs is the parsed command line, reproducing the original tool's
// grammar verbatim:
//
//	<prog> --bind <HOST:PORT> [--config <PATH>] <MODE>
//	MODE := http
//	      | https --pk <PKCS12_PATH> --password <PASSWORD>
//	      | tcp --destination <HOST:PORT>
type CLIArgs struct {
	Bind       string
	ConfigPath string
	Mode       tunnel.Mode

	PKCS12Path string
	Password   string

	Destination string
}

const usage = `Usage: gatetun --bind <HOST:PORT> [--config <PATH>] <MODE>

A simple HTTP(S) tunnel.

Options:
    --bind <BIND>      Bind address, e.g. 0.0.0.0:8443 (required)
    --config <CONFIG>  Configuration file

Subcommands:
    http     Run the tunnel in HTTP mode
    https    Run the tunnel in HTTPS mode
    tcp      Run the tunnel in TCP proxy mode

Subcommand options:
    https --pk <PKCS12>        pkcs12 filename (required)
          --password <PASSWORD> Password for the pkcs12 file (required)
    tcp   --destination, -d <DESTINATION>  Destination address, e.g. 10.0.0.2:8443 (required)
`

// ParseArgs parses args (typically os.Args[1:]) into CLIArgs, using one
// flag.FlagSet per subcommand and reproducing the flag names and help text
// of the original grammar.
func ParseArgs(args []string) (CLIArgs, error) {
	fs := flag.NewFlagSet("gatetun", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	bind := fs.String("bind", "", "Bind address, e.g. 0.0.0.0:8443")
	configPath := fs.String("config", "", "Configuration file")

	if err := fs.Parse(args); err != nil {
		return CLIArgs{}, err
	}
	if *bind == "" {
		return CLIArgs{}, fmt.Errorf("config: --bind is required")
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return CLIArgs{}, fmt.Errorf("config: a mode subcommand (http, https, tcp) is required")
	}

	out := CLIArgs{Bind: *bind, ConfigPath: *configPath}

	switch rest[0] {
	case "http":
		out.Mode = tunnel.ModeHTTP
		httpFS := flag.NewFlagSet("http", flag.ContinueOnError)
		if err := httpFS.Parse(rest[1:]); err != nil {
			return CLIArgs{}, err
		}

	case "https":
		out.Mode = tunnel.ModeHTTPS
		httpsFS := flag.NewFlagSet("https", flag.ContinueOnError)
		pk := httpsFS.String("pk", "", "pkcs12 filename")
		password := httpsFS.String("password", "", "Password for the pkcs12 file")
		if err := httpsFS.Parse(rest[1:]); err != nil {
			return CLIArgs{}, err
		}
		if *pk == "" {
			return CLIArgs{}, fmt.Errorf("config: https mode requires --pk")
		}
		if *password == "" {
			return CLIArgs{}, fmt.Errorf("config: https mode requires --password")
		}
		out.PKCS12Path = *pk
		out.Password = *password

	case "tcp":
		out.Mode = tunnel.ModeTCP
		tcpFS := flag.NewFlagSet("tcp", flag.ContinueOnError)
		dest := tcpFS.String("destination", "", "Destination address, e.g. 10.0.0.2:8443")
		tcpFS.StringVar(dest, "d", "", "Destination address (shorthand)")
		if err := tcpFS.Parse(rest[1:]); err != nil {
			return CLIArgs{}, err
		}
		if *dest == "" {
			return CLIArgs{}, fmt.Errorf("config: tcp mode requires --destination")
		}
		out.Destination = *dest

	default:
		return CLIArgs{}, fmt.Errorf("config: unknown mode %q (want http, https, or tcp)", rest[0])
	}

	return out, nil
}
