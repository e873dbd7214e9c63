// trustctl is the control CLI for the trustd policy engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"trustd/internal/config"
	"trustd/internal/engine"
	"trustd/internal/ipc"
	"trustd/internal/logging"
	"trustd/internal/permission"
	"trustd/internal/signing"
	"trustd/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "query a running trustd over its socket instead of opening the store")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "resolve":
		requireArgs(2, "trustctl resolve <pubkey|npub>")
		cmdResolve(flag.Arg(1))
	case "check":
		requireArgs(4, "trustctl check <pubkey> <action> <type[:target]>")
		cmdCheck(flag.Arg(1), flag.Arg(2), flag.Arg(3))
	case "sign":
		requireArgs(3, "trustctl sign <declaration.json> <signer-identity>")
		cmdSign(flag.Arg(1), flag.Arg(2))
	case "countersign":
		requireArgs(3, "trustctl countersign <declaration-id> <signer-identity>")
		cmdCountersign(flag.Arg(1), flag.Arg(2))
	case "assign":
		requireArgs(3, "trustctl assign <pubkey> <level> [reason]")
		reason := ""
		if flag.NArg() >= 4 {
			reason = flag.Arg(3)
		}
		cmdAssign(flag.Arg(1), flag.Arg(2), reason)
	case "unassign":
		requireArgs(2, "trustctl unassign <assignment-id>")
		cmdUnassign(flag.Arg(1))
	case "export":
		requireArgs(2, "trustctl export <declaration-id>")
		cmdExport(flag.Arg(1))
	case "status":
		cmdStatus()
	case "reload":
		cmdReload()
	case "shutdown":
		cmdShutdown()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `trustctl - Control utility for the trustd policy engine

Usage: trustctl [options] <command> [args]

Commands:
  resolve <pubkey>                     Show the effective trust record
  check <pubkey> <action> <scope>      Test an action against a scope (e.g. channel:kaizo:intro)
  sign <file> <identity>               Sign a declaration document
  countersign <id> <identity>          Countersign a stored declaration
  assign <pubkey> <level> [reason]     Record a manual trust override
  unassign <id>                        Remove a manual trust override
  export <id>                          Export a declaration document
  status                               Show daemon status (requires -socket)
  reload                               Ask the daemon to reload its config (requires -socket)
  shutdown                             Ask the daemon to exit (requires -socket)
  help                                 Show this help message

Options:
  -config <path>  Path to config file (default: ~/.trustd/config.toml)
  -socket <path>  Socket of a running trustd; resolve/check/export go through it`)
}

func requireArgs(n int, use string) {
	if flag.NArg() < n {
		fmt.Fprintln(os.Stderr, "Usage:", use)
		os.Exit(1)
	}
}

func newEngine() (*engine.Engine, func()) {
	path := *configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			path = config.DefaultPath()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("load config", err)
	}

	log, closer, err := logging.New(logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		fatal("init logging", err)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fatal("open store", err)
	}

	keys := &signing.FileProvider{Dir: cfg.Signing.KeyDir}
	eng := engine.New(st, keys, signing.LocalFinalizer{}, cfg, log)

	cleanup := func() {
		st.Close()
		if closer != nil {
			closer.Close()
		}
	}
	return eng, cleanup
}

func dialDaemon() *ipc.Client {
	c, err := ipc.Dial(*socketPath)
	if err != nil {
		fatal("connect to daemon", err)
	}
	return c
}

func requireSocket(cmd string) *ipc.Client {
	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: trustctl -socket <path> %s\n", cmd)
		os.Exit(1)
	}
	return dialDaemon()
}

func cmdStatus() {
	c := requireSocket("status")
	defer c.Close()

	st, err := c.Status()
	if err != nil {
		fatal("status", err)
	}
	fmt.Printf("Version:  %s\n", st.Version)
	fmt.Printf("Started:  %s\n", st.StartedAt)
	fmt.Printf("Storage:  %s\n", st.Storage)
	fmt.Printf("Readonly: %v\n", st.ReadOnly)
}

func cmdReload() {
	c := requireSocket("reload")
	defer c.Close()
	if err := c.ReloadConfig(); err != nil {
		fatal("reload", err)
	}
	fmt.Println("Configuration reloaded")
}

func cmdShutdown() {
	c := requireSocket("shutdown")
	defer c.Close()
	if err := c.Shutdown(); err != nil {
		fatal("shutdown", err)
	}
	fmt.Println("Shutdown requested")
}

func cmdResolve(pubkey string) {
	if *socketPath != "" {
		c := dialDaemon()
		defer c.Close()
		rec, err := c.Resolve(pubkey)
		if err != nil {
			fatal("resolve", err)
		}
		fmt.Printf("Pubkey:      %s\n", rec.Pubkey)
		fmt.Printf("Trust level: %d\n", rec.TrustLevel)
		fmt.Printf("Tier:        %s\n", rec.Tier)
		if rec.AdminLevel > 0 {
			fmt.Printf("Admin level: %d\n", rec.AdminLevel)
		}
		for _, g := range rec.Grants {
			fmt.Printf("  grant %s %s %v\n", g.ScopeType, strings.Join(g.ScopeTargets, ","), g.Flags)
		}
		return
	}

	eng, cleanup := newEngine()
	defer cleanup()

	rec := eng.Resolve(pubkey)
	fmt.Printf("Pubkey:      %s\n", rec.Pubkey)
	fmt.Printf("Trust level: %d\n", rec.TrustLevel)
	fmt.Printf("Tier:        %s\n", rec.Tier)
	if rec.AdminLevel > 0 {
		fmt.Printf("Admin level: %d\n", rec.AdminLevel)
	}
	if len(rec.Declarations) > 0 {
		fmt.Printf("Declarations (%d):\n", len(rec.Declarations))
		for _, d := range rec.Declarations {
			fmt.Printf("  %s  %s  countersigs %d/%d\n", d.ID, d.Status,
				d.CurrentCountersignatures, d.RequiredCountersignatures)
		}
	}
	if len(rec.Assignments) > 0 {
		fmt.Printf("Assignments (%d):\n", len(rec.Assignments))
		for _, a := range rec.Assignments {
			fmt.Printf("  #%d level %d by %s (%s)\n", a.ID, a.AssignedTrustLevel, a.AssignedBy, a.Reason)
		}
	}
}

func cmdCheck(pubkey, action, scopeArg string) {
	if *socketPath != "" {
		c := dialDaemon()
		defer c.Close()
		scope := parseScope(scopeArg)
		dec, err := c.Check(pubkey, action, scope.Type, scope.Target)
		if err != nil {
			fatal("check", err)
		}
		if dec.Allowed {
			fmt.Printf("ALLOWED (trust level %d, tier %s)\n", dec.TrustLevel, dec.Tier)
			return
		}
		fmt.Printf("DENIED: %s\n", dec.Reason)
		os.Exit(2)
	}

	eng, cleanup := newEngine()
	defer cleanup()

	scope := parseScope(scopeArg)
	dec := eng.CanPerform(pubkey, action, scope)
	if dec.Allowed {
		fmt.Printf("ALLOWED (trust level %d, tier %s)\n", dec.TrustLevel, dec.TrustTier)
		return
	}
	fmt.Printf("DENIED: %s\n", dec.Reason)
	os.Exit(2)
}

func parseScope(s string) permission.Scope {
	if t, rest, ok := strings.Cut(s, ":"); ok {
		return permission.Scope{Type: t, Target: rest}
	}
	return permission.Scope{Type: s}
}

func cmdSign(path, identity string) {
	eng, cleanup := newEngine()
	defer cleanup()

	doc, err := os.ReadFile(path)
	if err != nil {
		fatal("read declaration", err)
	}
	rec, err := eng.ImportDeclaration(doc)
	if err != nil {
		fatal("import declaration", err)
	}
	if rec.ContentHash == "" {
		if err := signing.FinalizeContent(rec); err != nil {
			fatal("finalize content", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := eng.SignDeclaration(ctx, rec, identity)
	if err != nil {
		fatal("sign declaration", err)
	}

	fmt.Printf("Signed %s\n", rec.ID)
	fmt.Printf("  signed_data_sha256: %s\n", res.SignedDataSHA256)
	fmt.Printf("  signer:             %s\n", res.Signer.Pubkey)
}

func cmdCountersign(id, identity string) {
	eng, cleanup := newEngine()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := eng.Countersign(ctx, id, identity)
	if err != nil {
		fatal("countersign", err)
	}
	fmt.Printf("Countersigned %s\n", id)
	fmt.Printf("  signed_data_sha256: %s\n", res.SignedDataSHA256)
}

func cmdAssign(pubkey, levelArg, reason string) {
	eng, cleanup := newEngine()
	defer cleanup()

	level, err := strconv.Atoi(levelArg)
	if err != nil {
		fatal("parse level", err)
	}
	id, err := eng.AssignTrust(&store.Assignment{
		Pubkey:             pubkey,
		AssignedTrustLevel: level,
		Source:             "trustctl",
		Reason:             reason,
	})
	if err != nil {
		fatal("assign trust", err)
	}
	fmt.Printf("Assignment #%d recorded\n", id)
}

func cmdUnassign(idArg string) {
	eng, cleanup := newEngine()
	defer cleanup()

	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		fatal("parse assignment id", err)
	}
	if err := eng.RevokeAssignment(id); err != nil {
		fatal("unassign", err)
	}
	fmt.Printf("Assignment #%d removed\n", id)
}

func cmdExport(id string) {
	if *socketPath != "" {
		c := dialDaemon()
		defer c.Close()
		doc, err := c.Export(id)
		if err != nil {
			fatal("export declaration", err)
		}
		fmt.Println(string(doc))
		return
	}

	eng, cleanup := newEngine()
	defer cleanup()

	doc, err := eng.ExportDeclaration(id)
	if err != nil {
		fatal("export declaration", err)
	}
	fmt.Println(string(doc))
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", what, err)
	os.Exit(1)
}
