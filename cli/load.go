package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hypernetix/lms/pkg/lmstudio"
)

func newLoadCmd(a *app) *cobra.Command {
	var opts lmstudio.LoadOptions

	cmd := &cobra.Command{
		Use:   "load <model>",
		Short: "Load a downloaded model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}

			modelKey := args[0]
			bar := newProgressPrinter(a.out)
			announced := false
			err = client.LoadModel(cmd.Context(), modelKey, opts, func(progress float64, model *lmstudio.Model) {
				if !announced {
					announced = true
					if model != nil {
						fmt.Fprintf(a.out, "Loading model %q (size: %s, format: %s) ...\n", model.ModelKey, formatSize(model.Size), modelFormat(*model))
					} else {
						fmt.Fprintf(a.out, "Loading model %q ...\n", modelKey)
					}
				}
				bar.update(progress, "")
			})
			bar.done()
			if err != nil {
				if errors.Is(err, lmstudio.ErrModelNotFound) {
					return fmt.Errorf("%w (run lms ls to see downloaded models)", err)
				}
				return fmt.Errorf("failed to load model: %w", err)
			}
			fmt.Fprintln(a.out, "✓ Model loaded successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Identifier, "identifier", "", "identifier of the loaded instance (default: the model key)")
	cmd.Flags().IntVar(&opts.ContextLength, "context-length", 0, "context length to load the model with")
	return cmd
}

func newUnloadCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "unload [model]",
		Short: "Unload a model, or every model with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("specify either a model or --all")
			}
			client, err := a.connect()
			if err != nil {
				return err
			}

			if all {
				fmt.Fprintln(a.out, "Unloading all loaded models...")
				if err := client.UnloadAllModels(cmd.Context()); err != nil {
					return fmt.Errorf("failed to unload all models: %w", err)
				}
				fmt.Fprintln(a.out, "Unloaded all models successfully")
				return nil
			}

			identifier := args[0]
			fmt.Fprintf(a.out, "Unloading model: %s\n", identifier)
			if err := client.UnloadModel(cmd.Context(), identifier); err != nil {
				return fmt.Errorf("failed to unload model: %w", err)
			}
			fmt.Fprintf(a.out, "Model %s unloaded successfully\n", identifier)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "unload all loaded models")
	return cmd
}
