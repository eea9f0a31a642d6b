package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/jonathan/siteforge/internal/generation"
	"github.com/jonathan/siteforge/internal/observability"
	"github.com/jonathan/siteforge/internal/types"
)

var (
	generateSiteID     string
	generateProfile    string
	generateAuditURL   string
	generateDirectives []string
	generateJSON       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate candidate sites for a business",
	Long: `Generate one candidate site per design directive. With --audit-url the site is
audited first and the findings are passed to every attempt.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateSiteID, "site-id", "", "Site identifier, a lowercase hostname label (required)")
	generateCmd.Flags().StringVar(&generateProfile, "profile", "", "Path to the business profile JSON file (required)")
	generateCmd.Flags().StringVar(&generateAuditURL, "audit-url", "", "Audit this URL first and use its findings")
	generateCmd.Flags().StringSliceVar(&generateDirectives, "directive", nil, "Directive ID to generate (repeatable, default all)")
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "Print the result as JSON")
	_ = generateCmd.MarkFlagRequired("site-id")
	_ = generateCmd.MarkFlagRequired("profile")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	profile, err := loadProfile(generateProfile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ids := make([]types.DirectiveID, len(generateDirectives))
	for i, id := range generateDirectives {
		ids[i] = types.DirectiveID(id)
	}
	selected, err := a.directives.Resolve(ids)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	progressOut := out
	if generateJSON {
		progressOut = cmd.ErrOrStderr()
	}
	printer := observability.NewPrinter(progressOut)

	req := generation.Request{SiteID: generateSiteID, Profile: *profile, Directives: selected}
	if generateAuditURL != "" {
		job, err := runAuditWithProgress(ctx, a.audits, generateAuditURL, printer)
		if err != nil {
			return fmt.Errorf("audit failed: %w", err)
		}
		req.Audit = job
	}

	_, _ = fmt.Fprintf(progressOut, "generating %d candidate sites for %s\n", len(selected), generateSiteID)
	result, err := a.generations.Generate(ctx, req)
	if err != nil {
		return err
	}
	if err := printGeneration(out, result, generateJSON); err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("no attempt produced a valid site")
	}
	return nil
}

// loadProfile reads and validates a business profile file.
func loadProfile(path string) (*types.BusinessProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var profile types.BusinessProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(profile); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return &profile, nil
}

func printGeneration(out io.Writer, result *generation.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	observability.NewPrinter(out).PrintGeneration(result)
	return nil
}
