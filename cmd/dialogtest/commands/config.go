package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/dialogtest/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration and contexts.

Contexts allow you to manage multiple channel configurations,
similar to kubectl's context management.

Configuration is stored in ~/.dialogtest/config.yaml`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context with the specified name.

The speech channel requires:
  - Subscription Key: the cloud speech resource key
  - Region: the resource region (unless --endpoint-url is given)

Grader credentials (optional) enable semantic turn checks.
Archive settings (optional) enable artifact upload after runs.

Example:
  # Add a context with channel credentials only
  dialogtest config add-context staging --subscription-key KEY --region westus2

  # Add a context with an LLM grader and an artifact bucket
  dialogtest config add-context prod \
    --subscription-key KEY --region westus2 --language de-DE \
    --grader-provider openai --grader-api-key sk-... --grader-model gpt-4o-mini \
    --archive-bucket dialog-runs --archive-region us-east-1 \
    --archive-access-key AK --archive-secret-key SK`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		key, err := cmd.Flags().GetString("subscription-key")
		if err != nil {
			return fmt.Errorf("failed to read 'subscription-key' flag: %w", err)
		}
		if key == "" {
			return fmt.Errorf("--subscription-key is required")
		}

		region, _ := cmd.Flags().GetString("region")
		endpointURL, _ := cmd.Flags().GetString("endpoint-url")
		if region == "" && endpointURL == "" {
			return fmt.Errorf("--region or --endpoint-url is required")
		}

		language, _ := cmd.Flags().GetString("language")
		botID, _ := cmd.Flags().GetString("bot-id")
		speechEndpoint, _ := cmd.Flags().GetString("custom-speech-endpoint")
		voiceDeployments, _ := cmd.Flags().GetStringSlice("custom-voice-deployment")
		replyTimeout, _ := cmd.Flags().GetDuration("reply-timeout")
		outputFolder, _ := cmd.Flags().GetString("output-folder")

		ctx := &cli.Context{
			SubscriptionKey:          key,
			Region:                   region,
			Language:                 language,
			BotID:                    botID,
			CustomSpeechEndpointID:   speechEndpoint,
			CustomVoiceDeploymentIDs: voiceDeployments,
			EndpointURL:              endpointURL,
			ReplyTimeout:             replyTimeout,
			OutputFolder:             outputFolder,
		}

		provider, _ := cmd.Flags().GetString("grader-provider")
		if provider != "" {
			graderKey, _ := cmd.Flags().GetString("grader-api-key")
			graderModel, _ := cmd.Flags().GetString("grader-model")
			graderBaseURL, _ := cmd.Flags().GetString("grader-base-url")
			if graderKey == "" || graderModel == "" {
				return fmt.Errorf("--grader-api-key and --grader-model are required with --grader-provider")
			}
			ctx.Grader = &cli.GraderConfig{
				Provider: provider,
				APIKey:   graderKey,
				Model:    graderModel,
				BaseURL:  graderBaseURL,
			}
		}

		bucket, _ := cmd.Flags().GetString("archive-bucket")
		if bucket != "" {
			prefix, _ := cmd.Flags().GetString("archive-prefix")
			archiveRegion, _ := cmd.Flags().GetString("archive-region")
			accessKey, _ := cmd.Flags().GetString("archive-access-key")
			secretKey, _ := cmd.Flags().GetString("archive-secret-key")
			endpoint, _ := cmd.Flags().GetString("archive-endpoint")
			ctx.Archive = &cli.ArchiveConfig{
				Bucket:    bucket,
				Prefix:    prefix,
				Region:    archiveRegion,
				AccessKey: accessKey,
				SecretKey: secretKey,
				Endpoint:  endpoint,
			}
		}

		cfg := getConfig()
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q added successfully", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg := getConfig()
		if err := cfg.DeleteContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q deleted", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg := getConfig()
		if err := cfg.UseContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Switched to context %q", name)
		return nil
	},
}

var configGetContextCmd = &cobra.Command{
	Use:   "get-context",
	Short: "Display the current context",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		if cfg.CurrentContext == "" {
			fmt.Println("No current context set")
			return nil
		}

		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		if len(cfg.Contexts) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tREGION\tLANGUAGE\tGRADER\tARCHIVE")

		for name, ctx := range cfg.Contexts {
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			region := ctx.Region
			if region == "" && ctx.EndpointURL != "" {
				region = "custom"
			}
			grader := "✗"
			if ctx.Grader != nil {
				grader = ctx.Grader.Provider
			}
			archive := "✗"
			if ctx.Archive != nil {
				archive = ctx.Archive.Bucket
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", current, name, region, ctx.Language, grader, archive)
		}

		w.Flush()
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		fmt.Printf("Config file: %s\n", cfg.Path())
		fmt.Printf("Current context: %s\n", cfg.CurrentContext)
		fmt.Printf("Contexts: %d\n", len(cfg.Contexts))

		if len(cfg.Contexts) > 0 {
			fmt.Println("\nContext details:")
			for name, ctx := range cfg.Contexts {
				fmt.Printf("\n  %s:\n", name)
				fmt.Printf("    Subscription Key: %s\n", cli.MaskSecret(ctx.SubscriptionKey))
				if ctx.Region != "" {
					fmt.Printf("    Region: %s\n", ctx.Region)
				}
				if ctx.EndpointURL != "" {
					fmt.Printf("    Endpoint URL: %s\n", ctx.EndpointURL)
				}
				if ctx.Language != "" {
					fmt.Printf("    Language: %s\n", ctx.Language)
				}
				if ctx.BotID != "" {
					fmt.Printf("    Bot ID: %s\n", ctx.BotID)
				}
				if ctx.CustomSpeechEndpointID != "" {
					fmt.Printf("    Custom Speech Endpoint: %s\n", ctx.CustomSpeechEndpointID)
				}
				if len(ctx.CustomVoiceDeploymentIDs) > 0 {
					fmt.Printf("    Custom Voice Deployments: %v\n", ctx.CustomVoiceDeploymentIDs)
				}
				if ctx.ReplyTimeout > 0 {
					fmt.Printf("    Reply Timeout: %s\n", ctx.ReplyTimeout)
				}
				if ctx.OutputFolder != "" {
					fmt.Printf("    Output Folder: %s\n", ctx.OutputFolder)
				}
				if ctx.Grader != nil {
					fmt.Printf("    Grader:\n")
					fmt.Printf("      Provider: %s\n", ctx.Grader.Provider)
					fmt.Printf("      API Key: %s\n", cli.MaskSecret(ctx.Grader.APIKey))
					fmt.Printf("      Model: %s\n", ctx.Grader.Model)
					if ctx.Grader.BaseURL != "" {
						fmt.Printf("      Base URL: %s\n", ctx.Grader.BaseURL)
					}
				}
				if ctx.Archive != nil {
					fmt.Printf("    Archive:\n")
					fmt.Printf("      Bucket: %s\n", ctx.Archive.Bucket)
					if ctx.Archive.Prefix != "" {
						fmt.Printf("      Prefix: %s\n", ctx.Archive.Prefix)
					}
					fmt.Printf("      Access Key: %s\n", cli.MaskSecret(ctx.Archive.AccessKey))
					if ctx.Archive.Endpoint != "" {
						fmt.Printf("      Endpoint: %s\n", ctx.Archive.Endpoint)
					}
				}
			}
		}

		return nil
	},
}

func init() {
	// add-context flags - channel credentials
	configAddContextCmd.Flags().String("subscription-key", "", "speech resource subscription key (required)")
	configAddContextCmd.Flags().String("region", "", "speech resource region")
	configAddContextCmd.Flags().String("endpoint-url", "", "custom channel endpoint URL")
	configAddContextCmd.Flags().String("language", "", "recognition language (default en-US)")
	configAddContextCmd.Flags().String("bot-id", "", "bot or commands application ID")
	configAddContextCmd.Flags().String("custom-speech-endpoint", "", "custom speech recognition endpoint ID")
	configAddContextCmd.Flags().StringSlice("custom-voice-deployment", nil, "custom voice deployment ID (repeatable)")
	configAddContextCmd.Flags().Duration("reply-timeout", 0, "default reply wait timeout")
	configAddContextCmd.Flags().String("output-folder", "", "folder for synthesized reply audio")

	// add-context flags - grader (optional)
	configAddContextCmd.Flags().String("grader-provider", "", "semantic grader provider (openai or gemini)")
	configAddContextCmd.Flags().String("grader-api-key", "", "grader API key")
	configAddContextCmd.Flags().String("grader-model", "", "grader model name")
	configAddContextCmd.Flags().String("grader-base-url", "", "grader base URL (openai-compatible gateways)")

	// add-context flags - archive (optional)
	configAddContextCmd.Flags().String("archive-bucket", "", "S3 bucket for run artifacts")
	configAddContextCmd.Flags().String("archive-prefix", "", "key prefix inside the bucket")
	configAddContextCmd.Flags().String("archive-region", "", "bucket region")
	configAddContextCmd.Flags().String("archive-access-key", "", "S3 access key")
	configAddContextCmd.Flags().String("archive-secret-key", "", "S3 secret key")
	configAddContextCmd.Flags().String("archive-endpoint", "", "S3-compatible endpoint URL")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
}
