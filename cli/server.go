package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hypernetix/lms/pkg/lmstudio"
)

func newServerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Control LM Studio's OpenAI-compatible HTTP server",
	}

	var (
		port int
		cors bool
	)
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("server-port") {
				port = a.cfg.Server.Port
			}
			if !cmd.Flags().Changed("cors") {
				cors = a.cfg.Server.CORS
			}
			if err := client.StartServer(cmd.Context(), port, cors); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			fmt.Fprintf(a.out, "Server started on port %d\n", port)
			return nil
		},
	}
	startCmd.Flags().IntVarP(&port, "server-port", "p", lmstudio.LMStudioAPIPorts[0], "port the HTTP server listens on")
	startCmd.Flags().BoolVar(&cors, "cors", false, "enable CORS")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			if err := client.StopServer(cmd.Context()); err != nil {
				return fmt.Errorf("failed to stop server: %w", err)
			}
			fmt.Fprintln(a.out, "Server stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the HTTP server is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			status, err := client.ServerStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get server status: %w", err)
			}
			if !status.Running {
				fmt.Fprintln(a.out, "Server: NOT RUNNING")
				return nil
			}
			fmt.Fprintf(a.out, "Server: RUNNING on port %d (CORS %s)\n", status.Port, onOff(status.CORS))
			return nil
		},
	}

	cmd.AddCommand(startCmd, stopCmd, statusCmd)
	return cmd
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "lms version: %s\n", lmstudio.Version)
			return nil
		},
	}
}
