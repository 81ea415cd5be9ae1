package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypernetix/lms/pkg/chatui"
	"github.com/hypernetix/lms/pkg/lmstudio"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		prompt      string
		system      string
		temperature float64
	)

	cmd := &cobra.Command{
		Use:   "chat [model]",
		Short: "Chat with a model",
		Long: "Chat with a model. With --prompt the reply is streamed to stdout and lms exits; " +
			"otherwise an interactive session starts. Without a model argument the configured " +
			"model, or else the first loaded LLM, is used.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interactive := prompt == ""
			if interactive {
				if !a.isTerminal() {
					return errors.New("interactive chat needs a terminal; use --prompt to send a single message")
				}
				closeLog, err := a.redirectLogs()
				if err != nil {
					return err
				}
				defer closeLog()
			}

			client, err := a.connect()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			model := a.cfg.Chat.Model
			if len(args) == 1 {
				model = args[0]
			}
			if model == "" {
				if model, err = firstLoadedLLM(ctx, client); err != nil {
					return err
				}
				fmt.Fprintf(a.errOut, "No model specified, using first loaded model: %s\n", model)
			}
			if !cmd.Flags().Changed("system") {
				system = a.cfg.Chat.SystemPrompt
			}
			if !cmd.Flags().Changed("temp") {
				temperature = a.cfg.Chat.Temperature
			}

			if !interactive {
				return a.oneShot(ctx, client, model, system, prompt, temperature)
			}

			return chatui.Run(chatui.Options{
				Client:              client,
				Model:               model,
				SystemPrompt:        system,
				Temperature:         temperature,
				MaxTokens:           a.cfg.Chat.MaxTokens,
				LargePasteThreshold: a.cfg.Chat.LargePasteThreshold,
				PasteWindow:         time.Duration(a.cfg.Chat.PasteWindowMs) * time.Millisecond,
				Logger:              a.logger,
			})
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "send a single prompt and print the reply")
	cmd.Flags().StringVarP(&system, "system", "s", "", "system prompt")
	cmd.Flags().Float64Var(&temperature, "temp", 0.7, "sampling temperature")
	return cmd
}

func firstLoadedLLM(ctx context.Context, client *lmstudio.LMStudioClient) (string, error) {
	models, err := client.ListLoadedLLMs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get loaded models: %w", err)
	}
	if len(models) == 0 {
		return "", errors.New("no models are loaded; load one with lms load <model> or pass a model")
	}
	return models[0].Name(), nil
}

func (a *app) oneShot(ctx context.Context, client *lmstudio.LMStudioClient, model, system, prompt string, temperature float64) error {
	var messages []lmstudio.ChatMessage
	if system != "" {
		messages = append(messages, lmstudio.ChatMessage{Role: lmstudio.RoleSystem, Content: system})
	}
	messages = append(messages, lmstudio.ChatMessage{Role: lmstudio.RoleUser, Content: prompt})

	result, err := client.Chat(ctx, lmstudio.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   a.cfg.Chat.MaxTokens,
	}, func(fragment string) {
		fmt.Fprint(a.out, fragment)
	})
	fmt.Fprintln(a.out)
	if err != nil {
		return fmt.Errorf("failed to send prompt: %w", err)
	}
	a.logger.Debug("Prediction finished: %d tokens, %.1f tok/s, stop reason %s",
		result.Stats.PredictedTokensCount, result.Stats.TokensPerSecond, result.Stats.StopReason)
	return nil
}

// redirectLogs keeps log output off the terminal the chat UI draws on.
// Debug and trace logs go to lms-chat.log next to the config file, lower
// levels are dropped.
func (a *app) redirectLogs() (func(), error) {
	level := a.logLevel()
	if level < lmstudio.LogLevelDebug {
		a.logger = lmstudio.NewLoggerTo(io.Discard, level)
		return func() {}, nil
	}

	path := filepath.Join(filepath.Dir(a.configFile), "lms-chat.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat log: %w", err)
	}
	fmt.Fprintf(a.errOut, "Logging to %s\n", path)
	a.logger = lmstudio.NewLoggerTo(f, level)
	return func() { f.Close() }, nil
}
