// Package authctl implements the operator commands of the token authority:
// hashing a password for manual provisioning, creating a user with roles and
// revoking every refresh token a user holds.
package authctl

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/cryptox"
	"github.com/dmitrijs2005/authservice/internal/server/config"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authservice/internal/server/services"
	"golang.org/x/term"
)

// Test seams.
var (
	readPassword = term.ReadPassword
	openDB       = func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) }
	newManager   = repomanager.NewPostgresRepositoryManager
	stdinFd      = func() int { return int(os.Stdin.Fd()) }
	newUploader  = func(cfg *config.Config) attachmentUploader { return services.NewAttachmentSigner(cfg) }
)

var ErrUsage = errors.New("usage: authctl <hash-password|create-user|revoke-sessions> [flags]")

// Run dispatches args[0] to a command. Output goes to out.
func Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}

	switch args[0] {
	case "hash-password":
		return hashPasswordCmd(args[1:], out)
	case "create-user":
		return createUserCmd(ctx, args[1:], out)
	case "revoke-sessions":
		return revokeSessionsCmd(ctx, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprintln(out, ErrUsage.Error())
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], ErrUsage)
	}
}

// promptPassword reads a password without echo. The caller wipes the result.
func promptPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(stdinFd())
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func promptNewPassword(w io.Writer) ([]byte, error) {
	pw, err := promptPassword(w, "Enter password: ")
	if err != nil {
		return nil, err
	}
	confirm, err := promptPassword(w, "Repeat password: ")
	if err != nil {
		common.WipeByteArray(pw)
		return nil, err
	}
	defer common.WipeByteArray(confirm)

	if string(pw) != string(confirm) {
		common.WipeByteArray(pw)
		return nil, errors.New("passwords do not match")
	}
	if len(pw) == 0 {
		return nil, errors.New("password must not be empty")
	}
	return pw, nil
}

func hashPasswordCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, err := promptNewPassword(out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	hash, err := cryptox.HashPassword(pw, cryptox.DefaultParams)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

func dbFlag(fs *flag.FlagSet, cfg *config.Config) *string {
	return fs.String("dsn", cfg.DatabaseDSN, "PostgreSQL DSN (defaults to $AUTH_DATABASE_DSN)")
}

func open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is required")
	}
	db, err := openDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	return db, nil
}

func createUserCmd(ctx context.Context, args []string, out io.Writer) error {
	cfg := config.LoadEnvConfig()
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(out)
	dsn := dbFlag(fs, cfg)
	var nu NewUser
	var roles string
	fs.StringVar(&nu.UserName, "username", "", "login name")
	fs.StringVar(&nu.Email, "email", "", "email address")
	fs.StringVar(&nu.Cellular, "cellular", "", "phone number")
	fs.StringVar(&nu.Attachment, "attachment", "", "attachment object key or URL")
	attachmentFile := fs.String("attachment-file", "", "local file uploaded to the attachment bucket")
	fs.StringVar(&roles, "roles", "", "comma-separated role codes, e.g. ADMIN,STAFF")
	migrate := fs.Bool("migrate", false, "apply schema migrations first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	nu.Roles = splitRoles(roles)

	if err := nu.validate(); err != nil {
		return err
	}
	if *attachmentFile != "" && nu.Attachment != "" {
		return errors.New("-attachment and -attachment-file are mutually exclusive")
	}

	db, err := open(*dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	m := newManager()
	if *migrate {
		if err := m.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	pw, err := promptNewPassword(out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	if *attachmentFile != "" {
		key, err := UploadAttachment(ctx, newUploader(cfg), nu.UserName, *attachmentFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "uploaded %s\n", key)
		nu.Attachment = key
	}

	u, err := CreateUser(ctx, db, m, nu, pw, cryptox.DefaultParams)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "created user %s (%s) roles=%s\n", u.UserName, u.ID, strings.Join(u.Roles, ","))
	return err
}

func revokeSessionsCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("revoke-sessions", flag.ContinueOnError)
	fs.SetOutput(out)
	cfg := config.LoadEnvConfig()
	dsn := dbFlag(fs, cfg)
	username := fs.String("username", "", "login name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}

	db, err := open(*dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	m := newManager()
	store, err := services.NewRefreshTokenStore(db, m, cfg.RefreshTokenValidityDuration)
	if err != nil {
		return err
	}
	n, err := RevokeSessions(ctx, db, m, store, *username)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "revoked %d refresh token(s) of %s\n", n, *username)
	return err
}

func splitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
