package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"replog/pkg/rpc"

	"github.com/spf13/cobra"
)

const defaultNodeURL = "http://localhost:8080"

func newSubmitCmd() *cobra.Command {
	var (
		url     string
		w       int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit [message]",
		Short: "Append a message through the master",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rpc.NewMasterClient(url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Submit(cmd.Context(), strings.Join(args, " "), rpc.SubmitOptions{W: w, Timeout: timeout})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultNodeURL, "master URL")
	cmd.Flags().IntVarP(&w, "w", "w", 0, "write concern, master included (default: all replicas)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "write-concern deadline override")
	return cmd
}

func newListCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the messages held by a master or secondary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// GET /messages is served by both roles
			client, err := rpc.NewMasterClient(url, nil)
			if err != nil {
				return err
			}
			msgs, err := client.Messages(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				if _, err := fmt.Fprintf(out, "%d\t%s\n", m.ID, m.Message); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultNodeURL, "node URL")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
