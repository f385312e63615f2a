// Copyright 2026 The Dawn Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/dawn-project/dawn/admin"
)

func (c *cli) cmdPing(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("ping takes no arguments")
	}
	code, err := c.client.Ping()
	if err != nil {
		return err
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Println("daemon is reachable")
	return nil
}

// cmdSetup walks first-run bootstrap: token, then the first admin
// account, in one atomic CREATE_USER so the token cannot be burned by
// a half-finished dialogue.
func (c *cli) cmdSetup(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("setup takes no arguments")
	}

	token, err := promptLine("Setup token (from the daemon's console): ")
	if err != nil {
		return err
	}
	token = strings.TrimSpace(strings.ToUpper(token))
	if len(token) != admin.TokenLength {
		return fmt.Errorf("a setup token is %d characters, got %d", admin.TokenLength, len(token))
	}

	username, err := promptLine("Admin username: ")
	if err != nil {
		return err
	}
	username = strings.TrimSpace(username)

	password, err := promptPasswordTwice("Admin password")
	if err != nil {
		return err
	}

	code, err := c.client.CreateUser([]byte(token), username, password, true)
	if err != nil {
		return err
	}
	switch code {
	case admin.RespSuccess:
		fmt.Printf("admin account %q created\n", username)
		return nil
	case admin.RespRateLimited:
		return fmt.Errorf("too many failed token attempts; locked out for up to 1 hour")
	default:
		return fmt.Errorf("setup failed: %s (is the token correct and still valid?)", code)
	}
}

func (c *cli) cmdUserList(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("user list takes no arguments")
	}
	users, resp, err := c.client.ListUsers()
	if err != nil {
		return err
	}
	if err := checkCode(resp.Code); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tSTATE\tCREATED\tLAST LOGIN")
	for _, u := range users {
		role := "user"
		if u.IsAdmin {
			role = "admin"
		}
		state := "active"
		if u.Locked {
			state = "locked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			u.Username, role, state, formatTime(u.CreatedAt), formatTime(u.LastLogin))
	}
	w.Flush()
	reportTruncation(resp)
	return nil
}

func (c *cli) cmdUserDelete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: user delete <name>")
	}
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	code, err := c.client.DeleteUser(creds, args[0])
	if err != nil {
		return err
	}
	if code == admin.RespLastAdmin {
		return fmt.Errorf("refusing to delete the last admin account")
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Printf("user %q deleted\n", args[0])
	return nil
}

func (c *cli) cmdUserPasswd(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: user passwd <name>")
	}
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	newPassword, err := promptPasswordTwice(fmt.Sprintf("New password for %q", args[0]))
	if err != nil {
		return err
	}
	code, err := c.client.ChangePassword(creds, args[0], newPassword)
	if err != nil {
		return err
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Printf("password for %q updated\n", args[0])
	return nil
}

func (c *cli) cmdUserUnlock(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: user unlock <name>")
	}
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	code, err := c.client.UnlockUser(creds, args[0])
	if err != nil {
		return err
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Printf("user %q unlocked\n", args[0])
	return nil
}

func (c *cli) cmdSessionList(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("session list takes no arguments")
	}
	sessions, resp, err := c.client.ListSessions()
	if err != nil {
		return err
	}
	if err := checkCode(resp.Code); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN PREFIX\tUSERNAME\tCREATED\tEXPIRES")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.TokenPrefix, s.Username, formatTime(s.CreatedAt), formatTime(s.ExpiresAt))
	}
	w.Flush()
	reportTruncation(resp)
	return nil
}

func (c *cli) cmdSessionRevoke(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: session revoke <token-prefix>")
	}
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	code, err := c.client.RevokeSession(creds, args[0])
	if err != nil {
		return err
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Printf("session %s revoked\n", args[0])
	return nil
}

func (c *cli) cmdSessionRevokeUser(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: session revoke-user <name>")
	}
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	code, err := c.client.RevokeUserSessions(creds, args[0])
	if err != nil {
		return err
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Printf("all sessions for %q revoked\n", args[0])
	return nil
}

func (c *cli) cmdStats(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("stats takes no arguments")
	}
	stats, resp, err := c.client.GetStats()
	if err != nil {
		return err
	}
	if err := checkCode(resp.Code); err != nil {
		return err
	}
	fmt.Printf("users:          %d (%d admin)\n", stats.Users, stats.Admins)
	fmt.Printf("sessions:       %d\n", stats.Sessions)
	fmt.Printf("audit events:   %d\n", stats.AuditEvents)
	fmt.Printf("blocked ips:    %d\n", stats.BlockedIPs)
	fmt.Printf("database size:  %d bytes\n", stats.DatabaseBytes)
	return nil
}

func (c *cli) cmdLog(args []string) error {
	flags := pflag.NewFlagSet("log", pflag.ContinueOnError)
	limit := flags.IntP("limit", "n", 0, "maximum events to show (default: daemon default)")
	user := flags.StringP("user", "u", "", "only events for this account")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 0 {
		return fmt.Errorf("log takes no positional arguments")
	}

	events, resp, err := c.client.QueryLog(*limit, *user)
	if err != nil {
		return err
	}
	if err := checkCode(resp.Code); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tUSERNAME")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n", formatTime(e.Time), e.Event, e.Username)
	}
	w.Flush()
	reportTruncation(resp)
	return nil
}

func (c *cli) cmdDBBackup(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("db backup takes no arguments")
	}
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	code, err := c.client.DBBackup(creds)
	if err != nil {
		return err
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Println("backup written (see the daemon log for the path and checksum)")
	return nil
}

func (c *cli) cmdDBCompact(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("db compact takes no arguments")
	}
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	code, err := c.client.DBCompact(creds)
	if err != nil {
		return err
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Println("database compacted")
	return nil
}

func (c *cli) cmdIPList(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("ip list takes no arguments")
	}
	blocked, resp, err := c.client.ListBlockedIPs()
	if err != nil {
		return err
	}
	if err := checkCode(resp.Code); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tFAILURES\tBLOCKED UNTIL")
	for _, b := range blocked {
		fmt.Fprintf(w, "%s\t%d\t%s\n", b.Address, b.FailureCount, formatTime(b.BlockedUntil))
	}
	w.Flush()
	reportTruncation(resp)
	return nil
}

func (c *cli) cmdIPUnblock(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ip unblock <address>")
	}
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	code, err := c.client.UnblockIP(creds, args[0])
	if err != nil {
		return err
	}
	if err := checkCode(code); err != nil {
		return err
	}
	fmt.Printf("address %s unblocked\n", args[0])
	return nil
}

// credentials collects the admin username and password for a
// privileged command.
func (c *cli) credentials() (admin.Credentials, error) {
	username := c.adminUser
	if username == "" {
		line, err := promptLine("Admin username: ")
		if err != nil {
			return admin.Credentials{}, err
		}
		username = strings.TrimSpace(line)
	}
	password, err := promptPassword(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		return admin.Credentials{}, err
	}
	return admin.Credentials{Username: username, Password: password}, nil
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func reportTruncation(resp admin.ListResponse) {
	if resp.Truncated() {
		fmt.Fprintf(os.Stderr, "(list truncated: %d items shown, more exist)\n", resp.ItemCount)
	}
}
