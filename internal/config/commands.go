package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/api"
	"github.com/robmartinson/tablesync/internal/backup"
	"github.com/robmartinson/tablesync/internal/bootstrap"
	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/dump"
	"github.com/robmartinson/tablesync/internal/schema"
	"github.com/robmartinson/tablesync/internal/syncer"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the sync, schema, dump and backup operations over HTTP. Callers
authenticate with one of the configured admin-tokens.`,
		RunE: runServe,
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Synchronize tables with the external endpoint",
		Long: `Copy tables between the local database and the external endpoint,
one page at a time, until every table is done. With --store the job is kept
in the job store and an interrupted run can be continued with --resume.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Create missing tables on the external endpoint",
		Args:  cobra.NoArgs,
		RunE:  runSchema,
	}

	dumpCmd = &cobra.Command{
		Use:   "dump [table]",
		Short: "Write a MySQL dump of local tables",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDump,
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON snapshot of the local tables",
		Args:  cobra.NoArgs,
		RunE:  runBackup,
	}

	restoreCmd = &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore a JSON snapshot into the local database",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate database connections and configuration",
		Long: `Test the local connection (and the external one when configured) and
compare the local tables against the built-in table definitions.`,
		RunE: runValidate,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tablesync v"+Version)
		},
	}
)

func init() {
	serveCmd.Flags().String("http-bind", ":8080", "HTTP API bind address")
	viper.BindPFlag("http-bind", serveCmd.Flags().Lookup("http-bind"))
	serveCmd.Flags().Bool("allow-sqlite-external", false, "accept sqlite files on this host as external endpoints")
	viper.BindPFlag("allow-sqlite-external", serveCmd.Flags().Lookup("allow-sqlite-external"))

	syncCmd.Flags().String("direction", "", "push (local to external) or pull (external to local)")
	syncCmd.Flags().StringSlice("tables", nil, "tables to sync (default all)")
	syncCmd.Flags().String("job", "", "YAML job file")
	syncCmd.Flags().String("resume", "", "continue a stored job")
	syncCmd.Flags().Bool("store", false, "keep the job in the job store")

	schemaCmd.Flags().StringSlice("tables", nil, "tables to create (default all)")

	dumpCmd.Flags().Bool("all", false, "dump every table")
	dumpCmd.Flags().Bool("gzip", false, "gzip the dump (with --all)")
	dumpCmd.Flags().StringP("output", "o", "", "output file, - for stdout")
	dumpCmd.Flags().Int("dump-chunk", dump.DefaultChunkSize, "rows per INSERT statement")
	viper.BindPFlag("dump-chunk", dumpCmd.Flags().Lookup("dump-chunk"))

	backupCmd.Flags().StringSlice("tables", nil, "tables to back up (default all)")
	backupCmd.Flags().StringP("output", "o", "", "output file, - for stdout")

	restoreCmd.Flags().Bool("replace", false, "delete existing rows first")
}

func (s *settings) controller(local *database.Conn) *syncer.Controller {
	c := syncer.NewController(local, s.catalog, s.logger)
	c.PageSize = s.pageSize
	c.WriteBatch = s.writeBatch
	return c
}

func (s *settings) formatter() *dump.Formatter {
	return &dump.Formatter{
		Catalog:   s.catalog,
		PageSize:  s.pageSize,
		ChunkSize: viper.GetInt("dump-chunk"),
		Logger:    s.logger,
	}
}

func (s *settings) backupService() *backup.Service {
	return &backup.Service{
		Catalog:    s.catalog,
		PageSize:   s.pageSize,
		WriteBatch: s.writeBatch,
		Logger:     s.logger,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	admins := viper.GetStringSlice("admin-tokens")
	if len(admins) == 0 {
		return fmt.Errorf("no admin-tokens configured")
	}

	ctx := cmd.Context()

	local, err := s.openLocal(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	ctrl := s.controller(local)
	srv := &api.Server{
		Local:      local,
		Catalog:    s.catalog,
		Controller: ctrl,
		Bootstrap:  &bootstrap.Bootstrapper{Logger: s.logger},
		Dump:       s.formatter(),
		Backup:     s.backupService(),
		Auth:       api.TokenAuthorizer{Admins: admins, Users: viper.GetStringSlice("user-tokens")},
		Logger:     s.logger,

		AllowSQLite: viper.GetBool("allow-sqlite-external"),
	}

	store, err := openJobStore(ctx, viper.GetString("jobstore"), viper.GetString("jobstore-path"), viper.GetString("jobstore-dsn"))
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	if store != nil {
		defer store.Close()
		srv.Jobs = syncer.NewManager(ctrl, store, s.logger)
	}

	httpSrv := &http.Server{
		Addr:              viper.GetString("http-bind"),
		Handler:           srv.Container(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("HTTP listening", zap.String("addr", httpSrv.Addr), zap.Stringer("local", local), zap.Bool("jobs", store != nil))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	flags := cmd.Flags()
	jobPath, _ := flags.GetString("job")
	resume, _ := flags.GetString("resume")
	keep, _ := flags.GetBool("store")

	var job syncer.Job
	var ext database.Endpoint
	if jobPath != "" {
		f, err := LoadJobFile(jobPath, s.catalog)
		if err != nil {
			return err
		}
		job = f.Job()
		if ext, err = promptPassword(f.External); err != nil {
			return err
		}
	} else {
		direction, _ := flags.GetString("direction")
		tables, _ := flags.GetStringSlice("tables")
		job = syncer.Job{Direction: syncer.Direction(direction), Tables: tables}
		if ext, err = s.externalEndpoint(); err != nil {
			return err
		}
	}

	ctx := cmd.Context()

	local, err := s.openLocal(ctx)
	if err != nil {
		return err
	}
	defer local.Close()
	ctrl := s.controller(local)

	out := cmd.OutOrStdout()
	progress := func(res *syncer.StepResult) {
		if !res.Done && res.Progress != nil {
			p := res.Progress
			fmt.Fprintf(out, "[%d/%d] %s: %d rows\n", p.TableNum, p.TotalTables, p.Table, p.RowsProcessed)
		}
	}

	var outcome *syncer.Outcome
	if resume != "" || keep {
		store, err := openJobStore(ctx, viper.GetString("jobstore"), viper.GetString("jobstore-path"), viper.GetString("jobstore-dsn"))
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}
		if store == nil {
			return fmt.Errorf("--resume and --store need a job store (set --jobstore)")
		}
		defer store.Close()

		m := syncer.NewManager(ctrl, store, s.logger)
		id := resume
		if id == "" {
			rec, err := m.Start(ctx, job)
			if err != nil {
				return err
			}
			id = rec.ID
			fmt.Fprintln(out, "Job", id)
		}
		for outcome == nil {
			res, err := m.Resume(ctx, id, ext)
			if err != nil {
				return fmt.Errorf("job %s: %w", id, err)
			}
			progress(res)
			if res.Done {
				outcome = res.Outcome
			}
		}
	} else {
		if outcome, err = ctrl.Run(ctx, job, ext, syncer.State{}, progress); err != nil {
			return err
		}
	}

	printOutcome(out, outcome)
	if !outcome.Success {
		return fmt.Errorf("sync finished with %d errors", outcome.Summary.TotalErrors)
	}
	return nil
}

func printOutcome(w io.Writer, o *syncer.Outcome) {
	names := make([]string, 0, len(o.Details))
	for name := range o.Details {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := o.Details[name]
		fmt.Fprintf(w, "%s: %d rows, %d written, %d errors\n", name, r.Rows, r.Inserted, len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintln(w, "  "+e)
		}
	}
	fmt.Fprintf(w, "%s finished: %d rows, %d written, %d errors\n",
		o.Direction, o.Summary.TotalRows, o.Summary.TotalInserted, o.Summary.TotalErrors)
}

func runSchema(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	names, _ := cmd.Flags().GetStringSlice("tables")
	tables, err := s.catalog.Select(names)
	if err != nil {
		return err
	}
	ep, err := s.externalEndpoint()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	conn, err := database.Open(ctx, ep, s.logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	res := (&bootstrap.Bootstrapper{Logger: s.logger}).Run(ctx, conn, tables, s.catalog.Enums)
	out := cmd.OutOrStdout()
	for _, e := range res.Results {
		if e.Error != "" {
			fmt.Fprintf(out, "%s: %s (%s)\n", e.Name, e.Status, e.Error)
		} else {
			fmt.Fprintf(out, "%s: %s\n", e.Name, e.Status)
		}
	}
	fmt.Fprintf(out, "%d statements, %d created, %d errors\n", res.Summary.Total, res.Summary.Created, res.Summary.Errors)
	if !res.Success {
		return fmt.Errorf("schema bootstrap finished with %d errors", res.Summary.Errors)
	}
	return nil
}

// openOutput opens path for writing; "-" is stdout.
func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func runDump(cmd *cobra.Command, args []string) (err error) {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	all, _ := cmd.Flags().GetBool("all")
	compress, _ := cmd.Flags().GetBool("gzip")
	output, _ := cmd.Flags().GetString("output")
	if all == (len(args) == 1) {
		return fmt.Errorf("give either a table name or --all")
	}

	ctx := cmd.Context()
	local, err := s.openLocal(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	f := s.formatter()
	if output == "" {
		output = "-"
		if all {
			output = f.Filename(compress)
		}
	}
	w, err := openOutput(cmd, output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	if !all {
		a, err := f.Table(ctx, local, args[0], dump.Options{IncludeHeader: true, IncludeFooter: true})
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, a.SQL()+"\n")
		return err
	}

	total, err := f.All(ctx, local, s.catalog.Names(), w, compress)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d rows to %s\n", total, output)
	return nil
}

func runBackup(cmd *cobra.Command, args []string) (err error) {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	tables, _ := cmd.Flags().GetStringSlice("tables")
	output, _ := cmd.Flags().GetString("output")

	ctx := cmd.Context()
	local, err := s.openLocal(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	snap, err := s.backupService().Backup(ctx, local, tables)
	if err != nil {
		return err
	}
	if output == "" {
		output = snap.Filename()
	}
	w, err := openOutput(cmd, output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := snap.WriteTo(w); err != nil {
		return err
	}

	rows := 0
	for _, t := range snap.Tables {
		rows += len(t)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Backed up %d rows from %d tables to %s\n", rows, len(snap.Tables), output)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	replace, _ := cmd.Flags().GetBool("replace")
	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()
	snap, err := backup.Read(file)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	local, err := s.openLocal(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	report, err := s.backupService().Restore(ctx, local, snap, backup.RestoreOptions{Replace: replace})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	names := make([]string, 0, len(report.Tables))
	for name := range report.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, e := range report.Tables[name].Errors {
			fmt.Fprintf(out, "%s: %s\n", name, e)
		}
	}
	fmt.Fprintln(out, report.Message)
	if !report.Success {
		return fmt.Errorf("restore finished with errors")
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	local, err := s.openLocal(ctx)
	if err != nil {
		return err
	}
	defer local.Close()
	version, err := local.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Local: %s (%s)\n", local, version)

	drift, err := columnDrift(ctx, local, s.catalog)
	if err != nil {
		return err
	}
	for _, d := range drift {
		fmt.Fprintln(out, "  "+d)
	}

	if externalConfigured(viper.GetViper()) {
		ep, err := s.externalEndpoint()
		if err != nil {
			return err
		}
		ext, err := database.Open(ctx, ep, s.logger)
		if err != nil {
			return err
		}
		defer ext.Close()
		version, err := ext.Version(ctx)
		if err != nil {
			return err
		}
		tables, err := ext.Tables(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "External: %s (%s), %d tables\n", ext, version, len(tables))
	}

	fmt.Fprintln(out, "Configuration is valid and database is accessible")
	return nil
}

// columnDrift compares the tables on conn with the catalog definitions.
func columnDrift(ctx context.Context, conn *database.Conn, catalog *schema.Catalog) ([]string, error) {
	var out []string
	for _, t := range catalog.Tables {
		ok, err := conn.TableExists(ctx, t.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, t.Name+": table missing")
			continue
		}
		cols, err := conn.Columns(ctx, t.Name)
		if err != nil {
			return nil, err
		}
		names := make(map[string]bool, len(cols))
		fetched := make([]string, len(cols))
		for i, c := range cols {
			names[c.Name] = true
			fetched[i] = c.Name
		}
		for _, c := range catalog.CheckColumns(t.Name, fetched) {
			out = append(out, fmt.Sprintf("%s.%s: not in table definition", t.Name, c))
		}
		for _, c := range t.Columns {
			if !names[c.Name] {
				out = append(out, fmt.Sprintf("%s.%s: column missing", t.Name, c.Name))
			}
		}
	}
	return out, nil
}
