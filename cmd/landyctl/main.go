package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

const defaultGateway = "http://localhost:8080"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "submit":
		runSubmitCmd(args)
	case "status":
		runStatusCmd(args)
	case "show":
		runShowCmd(args)
	case "watch":
		runWatchCmd(args)
	case "page":
		runPageCmd(args)
	case "failures":
		runFailuresCmd(args)
	case "gateway-status":
		runGatewayStatusCmd(args)
	default:
		usage()
		os.Exit(1)
	}
}

type flagSet struct {
	*flag.FlagSet
	gateway *string
	token   *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	gateway := fs.String("gateway", envOr("LANDY_GATEWAY", defaultGateway), "gateway base url")
	token := fs.String("token", envOr("LANDY_TOKEN", ""), "identity bearer token")
	return &flagSet{FlagSet: fs, gateway: gateway, token: token}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

func usage() {
	fmt.Print(`landyctl - LandyLocal operator CLI

Usage:
  landyctl submit --name <business> --type <kind> --city <city> --country <country>
                  [--locale ar-SA] [--direction rtl] [--description text]
                  [--competitors url1,url2] [--notes text] [--watch] [--json]
  landyctl status <job_id>
  landyctl show <job_id>
  landyctl watch <job_id> --stream-token <token>
  landyctl page <job_id>
  landyctl failures [--limit 50]
  landyctl gateway-status

Global flags:
  --gateway   Gateway base URL (default from LANDY_GATEWAY)
  --token     Identity bearer token (default from LANDY_TOKEN)
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func splitComma(value string) []string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
