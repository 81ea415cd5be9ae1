package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hypernetix/lms/pkg/lmstudio"
)

func newGetCmd(a *app) *cobra.Command {
	var (
		pick  int
		quant string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "get <query>",
		Short: "Search the model catalog and download a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			results, err := client.SearchModels(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("failed to search models: %w", err)
			}
			if len(results) == 0 {
				return fmt.Errorf("no models found for %q", args[0])
			}

			t := &table{header: []string{"#", "NAME", "SOURCE"}}
			for i, r := range results {
				t.add(strconv.Itoa(i+1), r.Name, r.Identifier.Type)
			}
			t.write(a.out, maxColumnWidth)

			if pick < 1 || pick > len(results) {
				return fmt.Errorf("--pick must be between 1 and %d", len(results))
			}
			chosen := results[pick-1]

			options, err := client.DownloadOptions(ctx, chosen)
			if err != nil {
				return fmt.Errorf("failed to get download options: %w", err)
			}
			opt, ok := lmstudio.ChooseDownloadOption(options, quant)
			if !ok {
				return fmt.Errorf("no download options for %s", chosen.Name)
			}
			if quant != "" && !strings.EqualFold(opt.Quantization, quant) {
				fmt.Fprintf(a.out, "Quantization %s not available, using %s\n", quant, opt.Quantization)
			}

			fmt.Fprintf(a.out, "Downloading %s (%s, %s) ...\n", chosen.Name, opt.Quantization, formatSize(opt.Size))
			bar := newProgressPrinter(a.out)
			key, err := client.DownloadModel(ctx, opt, func(p lmstudio.DownloadProgress) {
				bar.update(p.Fraction(), fmt.Sprintf("%s / %s", formatSize(p.DownloadedBytes), formatSize(p.TotalBytes)))
			})
			bar.done()
			if err != nil {
				return fmt.Errorf("failed to download model: %w", err)
			}
			fmt.Fprintf(a.out, "✓ Downloaded %s. Load it with: lms load %s\n", key, key)
			return nil
		},
	}
	cmd.Flags().IntVar(&pick, "pick", 1, "which search result to download, starting at 1")
	cmd.Flags().StringVar(&quant, "quant", "", "preferred quantization, such as Q4_K_M (default: the recommended one)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of search results")
	return cmd
}
