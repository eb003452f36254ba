package template

import (
	"bytes"
	"fmt"
	"io/fs"
	"text/template"
)

// ExecuteSqlTemplate renders the SQL template at templatePath in fsys with params.
func ExecuteSqlTemplate(fsys fs.FS, templatePath string, params map[string]any) (string, error) {
	content, err := fs.ReadFile(fsys, templatePath)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(templatePath).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", templatePath, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", templatePath, err)
	}

	return buf.String(), nil
}

// ReadSqlTemplate reads a SQL template file and returns its contents as a string
func ReadSqlTemplate(fsys fs.FS, templatePath string) (string, error) {
	content, err := fs.ReadFile(fsys, templatePath)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return string(content), nil
}
