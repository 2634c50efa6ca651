package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/BaSui01/tutorflow/config"
	"github.com/BaSui01/tutorflow/internal/migration"
)

// =============================================================================
// 🗄️ Database Migration Commands
// =============================================================================

// migrateCommand 一个迁移子命令
type migrateCommand struct {
	// positional 需要的位置参数名，例如 "<version>"
	positional string
	run        func(ctx context.Context, m *migration.Migrator, out io.Writer, fs *flag.FlagSet, arg string) error
}

var migrateCommands = map[string]migrateCommand{
	"up": {run: func(ctx context.Context, m *migration.Migrator, out io.Writer, _ *flag.FlagSet, _ string) error {
		if err := m.Up(ctx); err != nil {
			return err
		}
		return printSchemaVersion(out, m, "schema up to date")
	}},
	"down": {run: func(ctx context.Context, m *migration.Migrator, out io.Writer, fs *flag.FlagSet, _ string) error {
		if fs.Lookup("all").Value.String() == "true" {
			return resetSchema(ctx, m, out)
		}
		if err := m.Down(ctx); err != nil {
			return err
		}
		return printSchemaVersion(out, m, "rolled back one version")
	}},
	"status": {run: func(ctx context.Context, m *migration.Migrator, out io.Writer, _ *flag.FlagSet, _ string) error {
		st, err := m.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(out, st)
		return nil
	}},
	"version": {run: func(_ context.Context, m *migration.Migrator, out io.Writer, _ *flag.FlagSet, _ string) error {
		return printSchemaVersion(out, m, string(m.Dialect()))
	}},
	"goto": {positional: "<version>", run: func(ctx context.Context, m *migration.Migrator, out io.Writer, _ *flag.FlagSet, arg string) error {
		version, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", arg)
		}
		if err := m.Goto(ctx, uint(version)); err != nil {
			return err
		}
		return printSchemaVersion(out, m, "migrated")
	}},
	"force": {positional: "<version>", run: func(_ context.Context, m *migration.Migrator, out io.Writer, _ *flag.FlagSet, arg string) error {
		version, err := strconv.ParseInt(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", arg)
		}
		if err := m.Force(int(version)); err != nil {
			return err
		}
		return printSchemaVersion(out, m, "version forced, no scripts ran")
	}},
	"steps": {positional: "<n>", run: func(ctx context.Context, m *migration.Migrator, out io.Writer, _ *flag.FlagSet, arg string) error {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid step count: %s", arg)
		}
		if err := m.Steps(ctx, n); err != nil {
			return err
		}
		return printSchemaVersion(out, m, "migrated")
	}},
	"reset": {run: func(ctx context.Context, m *migration.Migrator, out io.Writer, _ *flag.FlagSet, _ string) error {
		return resetSchema(ctx, m, out)
	}},
}

// info 与 status 输出相同
func init() { migrateCommands["info"] = migrateCommands["status"] }

func resetSchema(ctx context.Context, m *migration.Migrator, out io.Writer) error {
	if err := m.Reset(ctx); err != nil {
		return err
	}
	return printSchemaVersion(out, m, "all versions rolled back, session_snapshots and quiz_attempts dropped")
}

// printSchemaVersion 输出形如 "sqlite: schema up to date (version 1)"
func printSchemaVersion(out io.Writer, m *migration.Migrator, what string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	state := fmt.Sprintf("version %d", version)
	if version == 0 {
		state = "no version applied"
	}
	if dirty {
		state += ", dirty: fix the schema by hand, then run force"
	}
	fmt.Fprintf(out, "%s (%s)\n", what, state)
	return nil
}

// printStatus 列出脚本与业务表
func printStatus(out io.Writer, st *migration.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "dialect\t%s\n", st.Dialect)
	fmt.Fprintf(w, "version\t%d\n", st.Version)
	switch {
	case st.Dirty:
		fmt.Fprintln(w, "state\tdirty")
	case st.Latest():
		fmt.Fprintln(w, "state\tup to date")
	default:
		fmt.Fprintf(w, "state\t%d pending\n", st.Pending())
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SCRIPT\tAPPLIED")
	for _, sc := range st.Scripts {
		fmt.Fprintf(w, "%06d_%s\t%s\n", sc.Version, sc.Name, yesNo(sc.Applied))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "TABLE\tROWS")
	for _, t := range st.Tables {
		rows := "missing"
		if t.Present {
			rows = strconv.FormatInt(t.Rows, 10)
		}
		fmt.Fprintf(w, "%s\t%s\n", t.Name, rows)
	}
	_ = w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		printMigrateUsage()
		return
	}
	cmd, ok := migrateCommands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", name)
		printMigrateUsage()
		os.Exit(1)
	}

	if err := execMigrate(context.Background(), os.Stdout, name, cmd, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", name, err)
		os.Exit(1)
	}
}

// execMigrate parses the subcommand's flags, opens the migrator and runs it.
func execMigrate(ctx context.Context, out io.Writer, name string, cmd migrateCommand, args []string) error {
	var arg string
	if cmd.positional != "" {
		if len(args) < 1 {
			return fmt.Errorf("usage: tutorflow migrate %s %s", name, cmd.positional)
		}
		arg, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("migrate "+name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	fs.Bool("all", false, "Rollback all migrations (down only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	migrator, err := openMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	return cmd.run(ctx, migrator, out, fs, arg)
}

// openMigrator uses --db-type/--db-url when both are given, otherwise the
// database section of the config (with --db-type overriding the driver).
func openMigrator(configPath, dbType, dbURL string) (*migration.Migrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.OpenURL(dbType, dbURL)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.OpenConfig(cfg.Database)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  tutorflow migrate <subcommand> [args] [options]

Subcommands:
  up            Apply all pending migrations
  down          Rollback the last migration (--all rolls back everything)
  status        Show applied scripts and session_snapshots / quiz_attempts rows
  version       Show current migration version
  info          Same as status
  goto <v>      Migrate to a specific version
  steps <n>     Apply (n > 0) or rollback (n < 0) n migrations
  force <v>     Force set migration version (use with caution)
  reset         Rollback all migrations (drops every stored session)
  help          Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  tutorflow migrate up
  tutorflow migrate up --config /etc/tutorflow/config.yaml
  tutorflow migrate down --all
  tutorflow migrate status --db-type sqlite --db-url file:tutorflow.db
  tutorflow migrate goto 1
  tutorflow migrate force 0`)
}
