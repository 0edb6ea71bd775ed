package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/templates"
)

// CreateExtensionOptions holds options for the create extension command.
type CreateExtensionOptions struct {
	name          string
	publisher     string
	description   string
	output        string
	modulePath    string
	permissions   []string
	onStartup     bool
	force         bool
	noInteractive bool
}

func newCreateExtensionCmd() *cobra.Command {
	opts := &CreateExtensionOptions{}

	cmd := &cobra.Command{
		Use:   "extension",
		Short: "Create a new extension scaffold",
		Long: `Generate a new extension project with a manifest, a WASM guest stub, and build instructions.

Examples:
  # Create an extension interactively
  gridlet create extension

  # Create without prompts
  gridlet create extension --name csv-import --publisher acme --permissions cells.read,cells.write

  # Create in a specific directory
  gridlet create extension --name csv-import --publisher acme --output ./extensions/csv-import`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runCreateExtension(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Extension name (e.g., 'csv-import')")
	cmd.Flags().StringVarP(&opts.publisher, "publisher", "p", "", "Publisher name (e.g., 'acme')")
	cmd.Flags().StringVarP(&opts.description, "description", "d", "", "One-line description")
	cmd.Flags().StringSliceVar(&opts.permissions, "permissions", nil, "Comma-separated permissions to declare (e.g., 'cells.read,network')")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output directory (default: ./<name>)")
	cmd.Flags().StringVar(&opts.modulePath, "module", "", "Go module path (default: github.com/<publisher>/<name>)")
	cmd.Flags().BoolVar(&opts.onStartup, "on-startup", false, "Activate the extension when the workbook opens")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&opts.noInteractive, "no-interactive", false, "Fail instead of prompting for missing values")

	return cmd
}

func runCreateExtension(opts *CreateExtensionOptions) error {
	if !opts.noInteractive {
		if err := promptMissing(opts); err != nil {
			return err
		}
	}

	if err := validateScaffoldName(opts.name, "extension name"); err != nil {
		return err
	}
	if err := validateScaffoldName(opts.publisher, "publisher name"); err != nil {
		return err
	}
	for _, p := range opts.permissions {
		if !permissions.IsKnown(p) {
			return fmt.Errorf("unknown permission %q", p)
		}
	}

	if opts.output == "" {
		opts.output = "./" + opts.name
	}
	if opts.modulePath == "" {
		opts.modulePath = "github.com/" + opts.publisher + "/" + opts.name
	}
	if opts.description == "" {
		opts.description = toTitleCase(opts.name) + " extension for Gridlet"
	}

	commandID := opts.name + ".run"
	events := []string{"onCommand:" + commandID}
	if opts.onStartup {
		events = append(events, "onStartupFinished")
	}

	data := templates.ExtensionData{
		Name:             opts.name,
		Publisher:        opts.publisher,
		DisplayName:      toTitleCase(opts.name),
		Description:      opts.description,
		ModulePath:       opts.modulePath,
		Permissions:      opts.permissions,
		ActivationEvents: events,
		CommandID:        commandID,
	}

	outputDir, err := filepath.Abs(opts.output)
	if err != nil {
		return fmt.Errorf("resolving output path: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmpl, err := templates.ExtensionTemplates()
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	for _, file := range templates.TemplateFiles() {
		outputPath := filepath.Join(outputDir, file)

		if !opts.force {
			if _, err := os.Stat(outputPath); err == nil {
				return fmt.Errorf("file already exists: %s (use --force to overwrite)", outputPath)
			}
		}

		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, file, data); err != nil {
			return fmt.Errorf("rendering %s: %w", file, err)
		}

		//nolint:gosec // G306: scaffolded source files need readable permissions
		if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}

		slog.Debug("created file", "path", outputPath)
	}

	fmt.Printf("✓ Created extension '%s.%s' in %s\n\n", opts.publisher, opts.name, outputDir)
	fmt.Println("Next steps:")
	fmt.Printf("  1. cd %s\n", opts.output)
	fmt.Println("  2. Implement your command handler in main.go")
	fmt.Println("  3. Build with 'GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o extension.wasm .'")
	fmt.Printf("  4. Run 'gridlet run . --command %s'\n", commandID)

	return nil
}

func promptMissing(opts *CreateExtensionOptions) error {
	var err error

	if opts.name == "" {
		err = huh.NewInput().
			Title("Extension name").
			Description("Lowercase with hyphens, e.g. csv-import").
			Value(&opts.name).
			Run()
		if err != nil {
			return err
		}
	}

	if opts.publisher == "" {
		err = huh.NewInput().
			Title("Publisher").
			Description("Lowercase with hyphens, e.g. acme").
			Value(&opts.publisher).
			Run()
		if err != nil {
			return err
		}
	}

	if opts.description == "" {
		err = huh.NewInput().
			Title("Description").
			Value(&opts.description).
			Run()
		if err != nil {
			return err
		}
	}

	if len(opts.permissions) == 0 {
		err = huh.NewMultiSelect[string]().
			Title("Select permissions to declare").
			Options(
				huh.NewOption("Read cells", permissions.CellsRead).Selected(true),
				huh.NewOption("Write cells", permissions.CellsWrite),
				huh.NewOption("Manage sheets", permissions.SheetsManage),
				huh.NewOption("Manage workbooks", permissions.WorkbookManage),
				huh.NewOption("Register commands", permissions.UICommands),
				huh.NewOption("Show panels", permissions.UIPanels),
				huh.NewOption("Add context menu entries", permissions.UIMenus),
				huh.NewOption("Access the network", permissions.Network),
				huh.NewOption("Use the clipboard", permissions.Clipboard),
				huh.NewOption("Store extension data", permissions.Storage),
			).
			Value(&opts.permissions).
			Run()
		if err != nil {
			return err
		}
	}

	return nil
}

// validateScaffoldName checks a kebab-case identifier the way manifest
// validation will.
func validateScaffoldName(name, what string) error {
	if name == "" {
		return fmt.Errorf("%s is required", what)
	}

	validName := regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid %s '%s': must be lowercase alphanumeric with hyphens, starting with a letter", what, name)
	}

	if strings.Contains(name, "--") {
		return fmt.Errorf("invalid %s '%s': consecutive hyphens not allowed", what, name)
	}

	return nil
}

// toTitleCase converts "csv-import" to "Csv Import".
func toTitleCase(s string) string {
	words := strings.Split(s, "-")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(string(word[0])) + word[1:]
		}
	}
	return strings.Join(words, " ")
}
