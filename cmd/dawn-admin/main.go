// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// dawn-admin is the local administration tool for dawn-daemon. It
// speaks the admin protocol over the daemon's unix socket and is only
// useful on the same machine, running as root or the daemon user.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/dawn-project/dawn/admin"
	"github.com/dawn-project/dawn/lib/config"
)

const usage = `Usage: dawn-admin [flags] <command> [args]

First-run bootstrap:
  setup                        create the first admin account (needs the setup token)

Commands:
  ping                         check that the daemon is reachable
  user list                    list accounts
  user delete <name>           delete an account
  user passwd <name>           set a new password for an account
  user unlock <name>           clear a failed-login lockout
  session list                 list active sessions
  session revoke <prefix>      revoke one session by token prefix
  session revoke-user <name>   revoke all sessions of one account
  stats                        show database statistics
  log [-n N] [-u name]         show recent audit events
  db backup                    write a compressed database backup
  db compact                   vacuum the database
  ip list                      list login-rate-limited addresses
  ip unblock <addr>            clear the rate limiter for an address

Flags:
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("dawn-admin", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	var (
		configPath = flags.String("config", "", "daemon configuration file (default: $DAWN_CONFIG)")
		socketName = flags.String("socket-name", "", "abstract socket name override")
		socketPath = flags.String("socket-path", "", "filesystem socket path override")
		adminUser  = flags.String("admin-user", "", "admin username for privileged commands (default: prompt)")
	)
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dawn-admin: %v\n", err)
		return 1
	}
	if *socketName != "" {
		cfg.Admin.SocketName = *socketName
		cfg.Admin.SocketPath = ""
	}
	if *socketPath != "" {
		cfg.Admin.SocketPath = *socketPath
		if *socketName == "" {
			cfg.Admin.SocketName = ""
		}
	}

	app := &cli{
		client: &admin.Client{
			SocketName: cfg.Admin.SocketName,
			SocketPath: cfg.Admin.SocketPath,
		},
		adminUser: *adminUser,
	}

	if err := app.dispatch(flags.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "dawn-admin: %v\n", err)
		return 1
	}
	return 0
}

type cli struct {
	client    *admin.Client
	adminUser string
}

func (c *cli) dispatch(args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "setup":
		return c.cmdSetup(rest)
	case "ping":
		return c.cmdPing(rest)
	case "user":
		return c.dispatchSub(cmd, rest, map[string]func([]string) error{
			"list":   c.cmdUserList,
			"delete": c.cmdUserDelete,
			"passwd": c.cmdUserPasswd,
			"unlock": c.cmdUserUnlock,
		})
	case "session":
		return c.dispatchSub(cmd, rest, map[string]func([]string) error{
			"list":        c.cmdSessionList,
			"revoke":      c.cmdSessionRevoke,
			"revoke-user": c.cmdSessionRevokeUser,
		})
	case "stats":
		return c.cmdStats(rest)
	case "log":
		return c.cmdLog(rest)
	case "db":
		return c.dispatchSub(cmd, rest, map[string]func([]string) error{
			"backup":  c.cmdDBBackup,
			"compact": c.cmdDBCompact,
		})
	case "ip":
		return c.dispatchSub(cmd, rest, map[string]func([]string) error{
			"list":    c.cmdIPList,
			"unblock": c.cmdIPUnblock,
		})
	default:
		return fmt.Errorf("unknown command %q (see dawn-admin --help)", cmd)
	}
}

func (c *cli) dispatchSub(group string, args []string, cmds map[string]func([]string) error) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: subcommand required (see dawn-admin --help)", group)
	}
	fn, ok := cmds[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q %q (see dawn-admin --help)", group, args[0])
	}
	return fn(args[1:])
}

// checkCode turns a non-success response into the error shown to the
// operator.
func checkCode(code admin.RespCode) error {
	if code == admin.RespSuccess {
		return nil
	}
	return fmt.Errorf("daemon answered: %s", code)
}
