// Package templates provides embedded templates for extension scaffolding.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

//go:embed extension/*.tmpl
var extensionTemplates embed.FS

// ExtensionData contains the data used to render extension templates.
type ExtensionData struct {
	// Name is the kebab-case extension name (e.g., "csv-import")
	Name string
	// Publisher is the kebab-case publisher name (e.g., "acme")
	Publisher string
	// DisplayName is the user-facing name (e.g., "CSV Import")
	DisplayName string
	// Description is a one-line summary
	Description string
	// ModulePath is the Go module path for the extension code
	ModulePath string
	// Permissions the manifest declares
	Permissions []string
	// ActivationEvents the manifest declares
	ActivationEvents []string
	// CommandID is the id of the generated sample command
	CommandID string
}

// ExtensionTemplates returns the parsed extension scaffold templates.
func ExtensionTemplates() (*template.Template, error) {
	tmpl := template.New("")

	err := fs.WalkDir(extensionTemplates, "extension", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}

		content, err := extensionTemplates.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", path, err)
		}

		// Use filename without .tmpl as template name
		name := strings.TrimPrefix(path, "extension/")
		name = strings.TrimSuffix(name, ".tmpl")

		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("parsing template %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// TemplateFiles returns the files a scaffolded extension consists of.
func TemplateFiles() []string {
	return []string{
		"manifest.yaml",
		"main.go",
		"go.mod",
		"README.md",
	}
}
