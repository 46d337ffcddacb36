package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/auth"
	persistlog "github.com/itsthedevman/esm-arma/internal/persistence/log"
	"github.com/itsthedevman/esm-arma/internal/schema"
	"github.com/itsthedevman/esm-arma/internal/settings"
)

const usage = `usage: admin <command> [flags]

commands:
  token     issue a signed session token for a player uid
  db        query the sqlite store (counts|account|rewards|audits|execs|items|notifications)
  reward    insert a reward directly into the sqlite store
  audit     read compressed audit files from the data directory
  schema    print the JSON Schema of one message, or list message names
  settings  check a settings blob offline
  state     fetch the live settings of a running server
  reload    ask a running server to reload its settings blob`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "token":
		tokenCmd(args)
	case "db":
		dbCmd(args)
	case "reward":
		rewardCmd(args)
	case "audit":
		auditCmd(args)
	case "schema":
		schemaCmd(args)
	case "settings":
		settingsCmd(args)
	case "state":
		stateCmd(args)
	case "reload":
		reloadCmd(args)
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", os.Args[1])
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func tokenCmd(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	uid := fs.String("uid", "", "player uid (required)")
	admin := fs.Bool("admin", false, "grant the admin claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := fs.String("secret", os.Getenv("ESM_AUTH_SECRET"), "signing secret (defaults to ESM_AUTH_SECRET)")
	_ = fs.Parse(args)

	signer, err := auth.NewSigner(*secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "signer:", err)
		os.Exit(2)
	}
	tok, err := signer.Issue(strings.TrimSpace(*uid), *admin, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue:", err)
		os.Exit(2)
	}
	fmt.Println(tok)
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	actor := fs.String("actor", "", "only entries by this uid")
	kind := fs.String("kind", "", "only entries of this kind")
	since := fs.Duration("since", 0, "only entries newer than this (0 = all)")
	_ = fs.Parse(args)

	files, err := persistlog.AuditFiles(filepath.Join(*dataDir, "audit"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no audit files under", filepath.Join(*dataDir, "audit"))
		return
	}
	var cutoff time.Time
	if *since > 0 {
		cutoff = time.Now().Add(-*since)
	}
	n := 0
	for _, path := range files {
		err := persistlog.ReadAudit(path, func(e audit.Entry) bool {
			if *actor != "" && e.Actor != *actor {
				return true
			}
			if *kind != "" && string(e.Kind) != *kind {
				return true
			}
			if !cutoff.IsZero() && e.Time.Before(cutoff) {
				return true
			}
			printJSON(e)
			n++
			return true
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "files=%d entries=%d\n", len(files), n)
}

func schemaCmd(args []string) {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	_ = fs.Parse(args)

	reg := schema.Default()
	if fs.NArg() == 0 {
		for _, name := range reg.Names() {
			fmt.Println(name)
		}
		return
	}
	b, err := reg.JSONSchema(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "schema:", err)
		os.Exit(2)
	}
	fmt.Println(string(b))
}

func settingsCmd(args []string) {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	path := fs.String("file", "", "settings blob (yaml or json; required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(2)
	}
	blob, err := settings.ReadBlob(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	st, rep := settings.Load(blob, settings.Defaults())
	for _, v := range settings.Snapshot(&st) {
		printJSON(v)
	}
	for _, k := range rep.Ignored {
		fmt.Fprintf(os.Stderr, "ignored: %s\n", k)
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	fmt.Fprintf(os.Stderr, "applied=%d ignored=%d warnings=%d\n", len(rep.Applied), len(rep.Ignored), len(rep.Warnings))
	if len(rep.Warnings) > 0 {
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
