package config

import (
	"testing"

	"github.com/gatetun/gatetun/internal/tunnel"
)

func TestParseArgs_HTTPMode(t *testing.T) {
	args, err := ParseArgs([]string{"--bind", "0.0.0.0:8080", "http"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if args.Bind != "0.0.0.0:8080" || args.Mode != tunnel.ModeHTTP {
		t.Fatalf("args=%#v unexpected", args)
	}
}

func TestParseArgs_HTTPSModeRequiresPkAndPassword(t *testing.T) {
	if _, err := ParseArgs([]string{"--bind", "0.0.0.0:8443", "https"}); err == nil {
		t.Fatalf("expected error: missing --pk and --password")
	}
	if _, err := ParseArgs([]string{"--bind", "0.0.0.0:8443", "https", "--pk", "id.p12"}); err == nil {
		t.Fatalf("expected error: missing --password")
	}

	args, err := ParseArgs([]string{"--bind", "0.0.0.0:8443", "https", "--pk", "id.p12", "--password", "secret"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if args.Mode != tunnel.ModeHTTPS || args.PKCS12Path != "id.p12" || args.Password != "secret" {
		t.Fatalf("args=%#v unexpected", args)
	}
}

func TestParseArgs_TCPModeAcceptsLongAndShortDestination(t *testing.T) {
	args, err := ParseArgs([]string{"--bind", "0.0.0.0:9000", "tcp", "--destination", "10.0.0.2:8443"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if args.Destination != "10.0.0.2:8443" {
		t.Fatalf("Destination=%q want 10.0.0.2:8443", args.Destination)
	}

	args, err = ParseArgs([]string{"--bind", "0.0.0.0:9000", "tcp", "-d", "10.0.0.3:9443"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if args.Destination != "10.0.0.3:9443" {
		t.Fatalf("Destination=%q want 10.0.0.3:9443 (shorthand flag)", args.Destination)
	}
}

func TestParseArgs_TCPModeRequiresDestination(t *testing.T) {
	if _, err := ParseArgs([]string{"--bind", "0.0.0.0:9000", "tcp"}); err == nil {
		t.Fatalf("expected error: missing --destination")
	}
}

func TestParseArgs_MissingBindIsError(t *testing.T) {
	if _, err := ParseArgs([]string{"http"}); err == nil {
		t.Fatalf("expected error: missing --bind")
	}
}

func TestParseArgs_MissingModeIsError(t *testing.T) {
	if _, err := ParseArgs([]string{"--bind", "0.0.0.0:8080"}); err == nil {
		t.Fatalf("expected error: missing mode subcommand")
	}
}

func TestParseArgs_UnknownModeIsError(t *testing.T) {
	if _, err := ParseArgs([]string{"--bind", "0.0.0.0:8080", "ftp"}); err == nil {
		t.Fatalf("expected error: unknown mode")
	}
}

func TestParseArgs_ConfigFlagIsOptional(t *testing.T) {
	args, err := ParseArgs([]string{"--bind", "0.0.0.0:8080", "--config", "gatetun.yaml", "http"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if args.ConfigPath != "gatetun.yaml" {
		t.Fatalf("ConfigPath=%q want gatetun.yaml", args.ConfigPath)
	}
}
