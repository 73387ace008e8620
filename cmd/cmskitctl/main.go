// Package main provides cmskitctl, the command line companion of the
// cmskit server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	"github.com/kailas-cloud/cmskit/internal/domain/collection"
	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/validation"
	"github.com/kailas-cloud/cmskit/internal/domain/widget"
	"github.com/kailas-cloud/cmskit/internal/repository/schema"
	"github.com/kailas-cloud/cmskit/internal/version"
	cmskit "github.com/kailas-cloud/cmskit/pkg/sdk"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cmskitctl",
		Short: "Manage cmskit collections and content",
		Long: `Manage cmskit collections and content.

Examples:
  cmskitctl validate --schema-dir collections
  cmskitctl export products --schema-dir collections --dsn file:cms.db -o products.csv
  cmskitctl export products/p1/locales --redis localhost:6379
`,
		SilenceUsage: true,
	}
	cmd.AddCommand(validateCmd(), exportCmd(), versionCmd())
	return cmd
}

type collectionReport struct {
	Path           string             `json:"path"`
	Name           string             `json:"name"`
	Properties     int                `json:"properties"`
	Errors         []string           `json:"errors,omitempty"`
	Subcollections []collectionReport `json:"subcollections,omitempty"`
}

func (r collectionReport) failed() int {
	n := 0
	if len(r.Errors) > 0 {
		n++
	}
	for _, sub := range r.Subcollections {
		n += sub.failed()
	}
	return n
}

func validateCmd() *cobra.Command {
	var (
		schemaDir   string
		customViews []string
		outputJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the collection definition files",
		Long: `Load every collection definition, resolve its schema, compile its
validators and dispatch a form widget for each property. Configuration
errors are reported per collection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cols, err := schema.LoadDir(schemaDir, nil)
			if err != nil {
				return err
			}
			d := widget.NewDispatcher(
				widget.WithCustomFields(customViews...),
				widget.WithCustomPreviews(customViews...),
			)
			reports := make([]collectionReport, 0, len(cols))
			failed := 0
			for _, c := range cols {
				r := check(d, c, "")
				failed += r.failed()
				reports = append(reports, r)
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					printReport(out, r, "")
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d collections have configuration errors", failed)
			}
			if !outputJSON {
				fmt.Fprintf(out, "%d collections OK\n", len(reports))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaDir, "schema-dir", "collections", "Directory of collection YAML files")
	cmd.Flags().StringSliceVar(&customViews, "custom-views", nil, "Registered custom field and preview ids")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output the collections as JSON")
	return cmd
}

// check resolves, compiles and dispatches the schema of c for a new entity.
func check(d *widget.Dispatcher, c collection.Collection, parent string) collectionReport {
	path := c.Path()
	if parent != "" {
		path = parent + "/" + path
	}
	r := collectionReport{Path: path, Name: c.Name(), Properties: c.Schema().Properties.Len()}

	props, err := c.Schema().Resolve(path, "", nil, nil)
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	} else {
		if _, err := validation.Compile(props, nil); err != nil {
			r.Errors = append(r.Errors, err.Error())
		}
		rc := widget.RenderContext{
			Surface:     widget.SurfaceForm,
			Status:      entity.StatusNew,
			Permissions: auth.Full(),
		}
		for name, p := range props.All() {
			if _, err := d.Field(rc, name, p, nil); err != nil {
				r.Errors = append(r.Errors, err.Error())
			}
		}
	}

	for _, sub := range c.Subcollections() {
		// Шаблонный путь подколлекции: products/locales
		r.Subcollections = append(r.Subcollections, check(d, sub, path))
	}
	return r
}

func printReport(w io.Writer, r collectionReport, indent string) {
	fmt.Fprintf(w, "%s%s (%s): %d properties\n", indent, r.Path, r.Name, r.Properties)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "%s  error: %s\n", indent, e)
	}
	for _, sub := range r.Subcollections {
		printReport(w, sub, indent+"  ")
	}
}

func exportCmd() *cobra.Command {
	var (
		schemaDir string
		dsn       string
		redisAddr string
		redisPass string
		prefix    string
		output    string
		orderBy   string
		limit     int
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export <collection path>",
		Short: "Export the entities of a collection as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []cmskit.Option{cmskit.WithSchemaDir(schemaDir), cmskit.WithKeyPrefix(prefix)}
			if redisAddr != "" {
				opts = append(opts, cmskit.WithRedis(redisAddr, redisPass))
			} else {
				opts = append(opts, cmskit.WithSQLite(dsn))
			}
			client, err := cmskit.New(ctx, opts...)
			if err != nil {
				return err
			}
			defer client.Close()

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			q := cmskit.Query{OrderBy: orderBy, Limit: limit}
			return client.Entities(args[0]).Export(ctx, w, q)
		},
	}
	cmd.Flags().StringVar(&schemaDir, "schema-dir", "collections", "Directory of collection YAML files")
	cmd.Flags().StringVar(&dsn, "dsn", "", "SQLite database (file path or DSN)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address; overrides --dsn")
	cmd.Flags().StringVar(&redisPass, "redis-password", os.Getenv("CMSKIT_REDIS_PASSWORD"), "Redis password")
	cmd.Flags().StringVar(&prefix, "key-prefix", "cmskit:", "Document key prefix")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().StringVar(&orderBy, "order-by", "", "Value path to sort by")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entities, 0 for all")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Overall timeout")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String("cmskitctl"))
		},
	}
}
