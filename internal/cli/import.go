package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"followup-templates/internal/models"
	"followup-templates/internal/vertical"
)

func newImportCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Bulk-load templates from a JSON file",
		Long: `Validate a JSON array of templates and upsert them into the configured catalog.
Rows with an id replace the existing template; rows without one are created.
The cache is not touched; flush it afterwards if the server is running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			templates, err := ParseTemplates(data)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d templates valid\n", len(templates))
				return nil
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Writer.Upsert(cmd.Context(), templates); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d templates\n", len(templates))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate only")
	return cmd
}

// ParseTemplates decodes and validates an import file. Verticals are stored
// in canonical form, so free-text values such as "Immobilien" are accepted.
func ParseTemplates(data []byte) ([]models.Template, error) {
	var templates []models.Template
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	var errs []error
	for i := range templates {
		t := &templates[i]
		t.StepKey = strings.TrimSpace(t.StepKey)
		if t.StepKey == "" {
			errs = append(errs, fmt.Errorf("template %d: step_key is required", i))
		}
		if strings.TrimSpace(t.Content) == "" {
			errs = append(errs, fmt.Errorf("template %d: content is required", i))
		}

		channel, err := models.ParseChannel(string(t.Channel))
		if err != nil {
			errs = append(errs, fmt.Errorf("template %d: %w %q", i, err, t.Channel))
		}
		t.Channel = channel

		tone, err := models.ParseTone(string(t.Tone))
		if err != nil {
			errs = append(errs, fmt.Errorf("template %d: %w %q", i, err, t.Tone))
		}
		t.Tone = tone

		t.Vertical = string(vertical.Normalize(t.Vertical))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return templates, nil
}
