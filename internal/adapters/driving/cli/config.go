package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/keep/internal/core/domain"
)

var (
	providerFlag string
	modelFlag    string
	apiKeyFlag   string
	skipValidate bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and change settings",
	Long: `Shows the effective settings and configures the embedding and
summarization providers. Settings live in keep.toml in the store directory.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runConfigShow,
}

var configEmbeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Configure the embedding provider",
	Long: `Configures the provider used for semantic search. Without --provider an
interactive prompt is shown. Changing the model rebuilds the search index in
the background.`,
	RunE: runConfigEmbedding,
}

var configSummarizerCmd = &cobra.Command{
	Use:   "summarizer",
	Short: "Configure the summarization provider",
	Long: `Configures the provider used to summarize long documents and split them
into parts. Without --provider an interactive prompt is shown.`,
	RunE: runConfigSummarizer,
}

func init() {
	for _, c := range []*cobra.Command{configEmbeddingCmd, configSummarizerCmd} {
		c.Flags().StringVar(&providerFlag, "provider", "", "provider name (ollama, openai, none)")
		c.Flags().StringVar(&modelFlag, "model", "", "model name (default per provider)")
		c.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key for cloud providers")
		c.Flags().BoolVar(&skipValidate, "no-validate", false, "save without contacting the provider")
	}
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEmbeddingCmd)
	configCmd.AddCommand(configSummarizerCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	cfg, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println(render(cmd, headingStyle, "[Store]"))
	cmd.Printf("  Path: %s\n", cfg.StorePath)
	cmd.Printf("  Default collection: %s\n", cfg.DefaultCollection)
	cmd.Printf("  Max summary length: %d\n", cfg.MaxSummaryLength)
	cmd.Printf("  Recency half-life: %s\n", cfg.RecencyHalfLife)
	if tags := formatTags(domain.MergeTags(cfg.DefaultTags, cfg.EnvironmentTags)); tags != "" {
		cmd.Printf("  Tags on every write: %s\n", tags)
	}
	cmd.Println()

	printProvider(cmd, "[Embedding]", cfg.Embedding)
	printProvider(cmd, "[Summarizer]", cfg.Summarizer)

	cmd.Println(render(cmd, headingStyle, "[Vector Index]"))
	cmd.Printf("  Backend: %s\n", cfg.Vector.Backend)
	if cfg.Vector.Backend == domain.VectorBackendPgvector {
		cmd.Printf("  Database: %s\n", redactURL(cfg.Vector.DatabaseURL))
	}
	cmd.Println()

	cmd.Println(render(cmd, headingStyle, "[Processor]"))
	cmd.Printf("  Batch size: %d\n", cfg.Processor.BatchSize)
	cmd.Printf("  Max attempts: %d\n", cfg.Processor.MaxAttempts)
	cmd.Printf("  Poll interval: %s\n", cfg.Processor.PollInterval)
	cmd.Printf("  Model serialization: %s\n", cfg.Models.Serialize)
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'keep config embedding' or 'keep config summarizer' to fix.")
	} else {
		cmd.Println("Configuration is valid.")
	}
	return nil
}

func printProvider(cmd *cobra.Command, title string, p domain.ProviderSettings) {
	cmd.Println(render(cmd, headingStyle, title))
	if p.Provider == domain.AIProviderNone {
		cmd.Println("  Provider: (none)")
		cmd.Println()
		return
	}
	cmd.Printf("  Provider: %s\n", p.Provider.Description())
	cmd.Printf("  Model: %s\n", p.Model)
	if p.Provider.IsLocal() {
		cmd.Printf("  Base URL: %s\n", p.BaseURL)
	}
	if p.Provider.RequiresAPIKey() {
		if p.APIKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(p.APIKey))
		} else {
			cmd.Printf("  API Key: (not set)\n")
		}
	}
	status := "configured"
	if !p.IsConfigured() {
		status = "not configured"
	}
	cmd.Printf("  Status: %s\n", status)
	cmd.Println()
}

// providerRole binds the generic configure flow to one provider role.
type providerRole struct {
	name     string
	defaults map[domain.AIProvider]string
	set      func(domain.AIProvider, string, string) error
	validate func(cmd *cobra.Command) error
}

func runConfigEmbedding(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	return configureProvider(cmd, providerRole{
		name:     "embedding",
		defaults: domain.DefaultEmbeddingModels(),
		set:      settingsService.SetEmbeddingProvider,
		validate: func(cmd *cobra.Command) error { return settingsService.ValidateEmbeddingConfig(cmd.Context()) },
	})
}

func runConfigSummarizer(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	return configureProvider(cmd, providerRole{
		name:     "summarizer",
		defaults: domain.DefaultSummarizerModels(),
		set:      settingsService.SetSummarizerProvider,
		validate: func(cmd *cobra.Command) error { return settingsService.ValidateSummarizerConfig(cmd.Context()) },
	})
}

func configureProvider(cmd *cobra.Command, role providerRole) error {
	provider, model, apiKey := domain.AIProvider(providerFlag), modelFlag, apiKeyFlag
	if provider == "none" {
		provider = domain.AIProviderNone
	}

	if providerFlag == "" {
		var err error
		provider, model, apiKey, err = promptProvider(cmd, bufio.NewReader(cmd.InOrStdin()), role)
		if err != nil {
			return err
		}
	}

	if err := role.set(provider, model, apiKey); err != nil {
		return fmt.Errorf("failed to configure %s provider: %w", role.name, err)
	}
	if provider == domain.AIProviderNone {
		cmd.Printf("%s provider disabled\n", role.name)
		return nil
	}

	if !skipValidate {
		// Validate the configuration by pinging the service
		cmd.Print("Validating configuration... ")
		if err := role.validate(cmd); err != nil {
			cmd.Printf("FAILED: %v\n", err)
			return fmt.Errorf("%s configuration validation failed: %w", role.name, err)
		}
		cmd.Println("OK")
	}

	if model == "" {
		model = role.defaults[provider]
	}
	cmd.Printf("%s provider configured: %s (%s)\n", role.name, provider.Description(), model)
	return nil
}

func promptProvider(cmd *cobra.Command, reader *bufio.Reader, role providerRole) (
	domain.AIProvider, string, string, error) {
	cmd.Printf("Select %s provider\n", role.name)
	providers := domain.AllAIProviders()
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Printf("  %d. None (disable)\n", len(providers)+1)
	cmd.Print("\nEnter choice [1]: ")
	idx := parseChoice(readLine(reader), len(providers)+1, 1)
	if idx == len(providers)+1 {
		return domain.AIProviderNone, "", "", nil
	}
	selected := providers[idx-1]

	defaultModel := role.defaults[selected]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	var apiKey string
	if selected.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey = readPassword(cmd.InOrStdin(), reader)
		cmd.Println()
		if apiKey == "" {
			return "", "", "", errors.New("API key is required for this provider")
		}
	}
	return selected, model, apiKey, nil
}

// Helper functions.

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readPassword reads without echo from a terminal, otherwise a plain line.
func readPassword(in io.Reader, reader *bufio.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return string(password)
		}
	}
	return readLine(reader)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// redactURL hides the password of a database URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
