package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hypernetix/lms/pkg/lmstudio"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the LM Studio service is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			running, err := client.CheckStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to check status: %w", err)
			}
			if !running {
				fmt.Fprintln(a.out, "LM Studio service status: NOT RUNNING")
				return errors.New("LM Studio is not running")
			}
			fmt.Fprintf(a.out, "LM Studio service status: RUNNING @ %s\n", client.APIHost())
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var llmOnly, embeddingOnly, jsonOutput bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List downloaded models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			models, err := client.ListDownloadedModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list downloaded models: %w", err)
			}

			title := "Downloaded Models"
			switch {
			case llmOnly:
				models, title = filterType(models, "llm"), "Downloaded LLM Models"
			case embeddingOnly:
				models, title = filterType(models, "embedding"), "Downloaded Embedding Models"
			}
			return printModels(a.out, models, title, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&llmOnly, "llm", false, "only list LLMs")
	cmd.Flags().BoolVar(&embeddingOnly, "embedding", false, "only list embedding models")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.MarkFlagsMutuallyExclusive("llm", "embedding")
	return cmd
}

func filterType(models []lmstudio.Model, typ string) []lmstudio.Model {
	var out []lmstudio.Model
	for _, m := range models {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func newPsCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List loaded models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			models, err := client.ListAllLoadedModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list loaded models: %w", err)
			}
			return printModels(a.out, models, "Loaded Models", jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")
	return cmd
}
