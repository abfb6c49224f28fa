package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"followup-templates/internal/cache"
	"followup-templates/internal/engine"
	"followup-templates/internal/personalize"
)

type resolveOptions struct {
	step     string
	vertical string
	channel  string
	tone     string
	name     string
	company  string
	raw      bool
}

func newResolveCommand() *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve and personalize the message for a step",
		Long:  `Run the resolution waterfall for a step and print the resulting message as JSON. With --raw only the resolved template is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.step, "step", "s", "", "Step key (required)")
	cmd.Flags().StringVarP(&opts.vertical, "vertical", "v", "", "Lead vertical, free text")
	cmd.Flags().StringVarP(&opts.channel, "channel", "c", "", "Channel (whatsapp, email, in_app)")
	cmd.Flags().StringVarP(&opts.tone, "tone", "t", "", "Tone (professional, casual, formal)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Lead full name")
	cmd.Flags().StringVar(&opts.company, "company", "", "Lead company")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print the unpersonalized resolution")
	_ = cmd.MarkFlagRequired("step")

	return cmd
}

func runResolve(cmd *cobra.Command, opts *resolveOptions) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := engine.Request{
		StepKey:  opts.step,
		Vertical: opts.vertical,
		Channel:  opts.channel,
		Tone:     opts.tone,
		Policy:   cache.PolicyBypass,
	}

	var out any
	if opts.raw {
		out = a.Engine.FetchTemplateForLead(ctx, req.StepKey, req.Vertical, req.Channel, req.Tone, engine.WithPolicy(req.Policy))
	} else {
		out = a.Engine.Compose(ctx, req, personalize.Lead{
			Name:     opts.name,
			Company:  opts.company,
			Vertical: opts.vertical,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
