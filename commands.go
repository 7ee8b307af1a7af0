package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

func newResolveCmd() *cobra.Command {
	var connectionID string
	var pretty bool
	cmd := &cobra.Command{
		Use:   `resolve "<question>"`,
		Short: "Answer one question and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			resolution, err := a.resolver.ResolveOn(cmd.Context(), connectionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, resolution, pretty)
		},
	}
	cmd.Flags().StringVarP(&connectionID, "connection", "c", "", "connection id (defaults to the primary datasource)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}

func newRefreshSchemaCmd() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "refresh-schema [connection-id]",
		Short: "Rediscover a connection's schema and print its summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var connectionID string
			if len(args) == 1 {
				connectionID = args[0]
			}
			summary, err := a.resolver.RefreshSchema(cmd.Context(), connectionID)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary, pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}

func printJSON(cmd *cobra.Command, v any, pretty bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func newDriversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the supported datasource types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, datasource.NewDatasourceAdapterFactory(nil).ListTypes(), true)
		},
	}
}
