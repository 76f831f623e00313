package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/cragline/cragline-core/internal/auth"
)

// resetAdminCommand is the subcommand name for the offline admin reset.
const resetAdminCommand = "reset-admin"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errPasswordMismatch = errors.New("passwords do not match")

// runResetAdmin resets (or creates) an admin account directly in the
// database. It needs shell access to the host, so it works when nobody can
// log in and no recovery token is configured.
func runResetAdmin(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet(resetAdminCommand, flag.ContinueOnError)
	fs.SetOutput(w)
	username := fs.String("username", "admin", "admin account to reset or create")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := promptNewPassword(w)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // process exits next

	user, created, err := auth.ResetAdmin(ctx,
		auth.NewUserRepository(db.DB), auth.NewTokenRepository(db.DB),
		*username, password)
	if err != nil {
		return fmt.Errorf("resetting admin: %w", err)
	}

	if created {
		fmt.Fprintf(w, "Created admin account %q.\n", user.Username)
	} else {
		fmt.Fprintf(w, "Reset password for %q and revoked all of its sessions.\n", user.Username)
	}
	return nil
}

// promptNewPassword reads the new password twice without echo.
func promptNewPassword(w io.Writer) (string, error) {
	first, err := promptPassword(w, "New admin password: ")
	if err != nil {
		return "", err
	}
	second, err := promptPassword(w, "Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errPasswordMismatch
	}
	if err := auth.ValidatePassword(first); err != nil {
		return "", err
	}
	return first, nil
}

func promptPassword(w io.Writer, prompt string) (string, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return "", err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}
