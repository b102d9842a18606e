package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/jhm/internal/backup"
	"github.com/kalambet/jhm/internal/config"
	"github.com/kalambet/jhm/internal/extsync"
	"github.com/kalambet/jhm/internal/migration"
	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/resumeimport"
	"github.com/kalambet/jhm/internal/storage"
)

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate legacy key-value data into the object store",
	Long: `Migrate legacy key-value data into the object store.

The server migrates automatically on start; this command re-runs it.

Examples:
  jhm migrate --status
  jhm migrate --force --clear-source`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showOnly, _ := cmd.Flags().GetBool("status")
		force, _ := cmd.Flags().GetBool("force")
		clearSource, _ := cmd.Flags().GetBool("clear-source")
		noBackup, _ := cmd.Flags().GetBool("no-backup")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if showOnly {
			return showMigrationStatus(ctx, client)
		}

		q := url.Values{}
		q.Set("force", fmt.Sprint(force))
		q.Set("clear_source", fmt.Sprint(clearSource))
		q.Set("backup", fmt.Sprint(!noBackup))

		printStep("Migrating...")
		resp, err := client.post(ctx, "/migration?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		var res migration.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printMigrationResult(&res)
		if !res.Success {
			return fmt.Errorf("migration failed: %s", res.Error)
		}
		return nil
	},
}

func showMigrationStatus(ctx context.Context, client *apiClient) error {
	resp, err := client.get(ctx, "/migration")
	if err != nil {
		return err
	}
	var st struct {
		State          string                `json:"state"`
		Status         migration.Status      `json:"status"`
		NeedsMigration bool                  `json:"needsMigration"`
		Source         *migration.SizeReport `json:"source"`
	}
	if err := decodeJSON(resp, &st); err != nil {
		return err
	}
	printStatus("State", "%s", st.State)
	printStatus("Needs migration", "%v", st.NeedsMigration)
	if st.Status.CompletedAt != "" {
		printStatus("Completed", "%s", st.Status.CompletedAt)
	}
	if st.Status.Error != "" {
		printStatus("Error", "%s", colorize(colorRed, st.Status.Error))
	}
	if st.Source != nil {
		printStatus("Legacy data", "%d bytes", st.Source.Total)
	}
	return nil
}

func printMigrationResult(res *migration.Result) {
	if res.Skipped {
		printWarning("%s", res.Message)
		return
	}
	for _, c := range []struct {
		name string
		r    migration.CollectionResult
	}{
		{"Jobs", res.Jobs},
		{"Resumes", res.Resumes},
		{"Letters", res.Letters},
		{"Settings", res.Settings},
	} {
		line := fmt.Sprintf("%d migrated", c.r.Migrated)
		if c.r.Failed > 0 {
			line += colorize(colorRed, fmt.Sprintf(", %d failed", c.r.Failed))
		}
		printStatus(c.name, "%s", line)
		for _, e := range c.r.Errors {
			fmt.Fprintf(os.Stderr, "    %s: %s\n", e.ID, e.Error)
		}
	}
	if len(res.Cleared) > 0 {
		printStatus("Cleared", "%s", strings.Join(res.Cleared, ", "))
	}
	if res.Success {
		printSuccess("Migration complete")
	}
}

func init() {
	migrateCmd.Flags().Bool("status", false, "show migration state without migrating")
	migrateCmd.Flags().Bool("force", false, "migrate again even if a previous migration completed")
	migrateCmd.Flags().Bool("clear-source", false, "remove migrated legacy data afterwards")
	migrateCmd.Flags().Bool("no-backup", false, "skip the legacy data snapshot")
}

// --- export / import ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export jobs, resumes and letters",
	Long: `Export jobs, resumes and letters as JSON or YAML.

Examples:
  jhm export > backup.json
  jhm export --output backup.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = backup.FormatFromPath(output)
		}
		if format != backup.FormatJSON && format != backup.FormatYAML {
			return fmt.Errorf("%w: %q", backup.ErrUnknownFormat, format)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/export?format="+format)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}

		if output != "" {
			printSuccess("Data exported to %s", output)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSON or YAML export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening import file: %w", err)
		}
		defer f.Close()

		b, err := backup.Decode(f, backup.FormatFromPath(path))
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/import", b)
		if err != nil {
			return err
		}
		var res storage.ImportResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Imported %d jobs, %d resumes, %d letters", res.Jobs, res.Resumes, res.Letters)
		for _, e := range res.Errors {
			printWarning("%s %s: %s", e.Collection, e.ID, e.Error)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
	exportCmd.Flags().String("format", "", "json or yaml (default: from --output extension, else json)")
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear <collection|all>",
	Short: "Delete every record in a collection",
	Long: `Delete every record in a collection.

Collections: jobs, resumes, letters, settings, metadata.
"all" clears everything except metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		yes, _ := cmd.Flags().GetBool("yes")
		if target != "all" && !record.IsCollection(target) {
			return fmt.Errorf("unknown collection %q", target)
		}
		if !yes {
			printWarning("This will delete all %s. Use --yes to proceed.", target)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/collections"
		if target != "all" {
			path += "/" + target
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Cleared %s", result["collection"])
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("yes", false, "confirm deletion")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull jobs from the connected browser extension",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/sync", nil)
		if err != nil {
			return err
		}
		var res extsync.ImportResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Imported %d, skipped %d, failed %d", res.Imported, res.Skipped, res.Failed)
		for _, e := range res.Errors {
			printWarning("%s: %s", e.Job, e.Error)
		}
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last extension sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/sync")
		if err != nil {
			return err
		}
		var st struct {
			Available bool               `json:"available"`
			Status    extsync.SyncStatus `json:"status"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printStatus("Extension", "%s", availability(st.Available))
		if st.Status.LastSync == "" {
			printStatus("Last sync", "never")
			return nil
		}
		printStatus("Last sync", "%s", st.Status.LastSync)
		printStatus("Result", "%d imported, %d skipped, %d failed", st.Status.Imported, st.Status.Skipped, st.Status.Failed)
		return nil
	},
}

var syncResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the recorded sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/sync")
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Sync status cleared")
		return nil
	},
}

func availability(ok bool) string {
	if ok {
		return colorize(colorGreen, "connected")
	}
	return colorize(colorYellow, "not connected")
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncResetCmd)
}

// --- maintenance ---

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Remove orphaned letters and check store integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/maintenance", nil)
		if err != nil {
			return err
		}
		var rep storage.MaintenanceReport
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}

		printStatus("Orphaned letters removed", "%d", rep.OrphansRemoved)
		if rep.Integrity != nil {
			for _, issue := range rep.Integrity.Issues {
				printError("%s", issue)
			}
			for _, w := range rep.Integrity.Warnings {
				printWarning("%s", w)
			}
		}
		if !rep.Health.Healthy {
			return fmt.Errorf("store unhealthy: %s", rep.Health.Error)
		}
		if rep.Integrity != nil && !rep.Integrity.Valid {
			return fmt.Errorf("integrity check found %d issues", len(rep.Integrity.Issues))
		}
		printSuccess("Store healthy")
		return nil
	},
}

// --- resume ---

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Manage resumes",
}

var resumeImportPDFCmd = &cobra.Command{
	Use:   "import-pdf <file>",
	Short: "Create a named resume from the text of a PDF",
	Long: `Create a named resume from the text of a PDF.

Contact details found in the text are copied into basics; the full text is
kept in rawText. A resume with the same name is replaced.

Examples:
  jhm resume import-pdf ~/cv.pdf --name main`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		printStep("Reading %s...", args[0])
		resume, err := resumeimport.FromPDF(args[0], name)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/resumes/named/"+url.PathEscape(name), resume)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Saved resume %q (%s)", name, result["id"])
		return nil
	},
}

func init() {
	resumeImportPDFCmd.Flags().String("name", "", "resume name (default: file name)")
	resumeCmd.AddCommand(resumeImportPDFCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the API bearer token in the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetAPIToken(args[0]); err != nil {
			return err
		}
		printSuccess("API token stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}
