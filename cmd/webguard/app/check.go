// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/stacklok/webguard/pkg/constraints"
)

var checkHeaders = []string{"URI", "Method", "Pattern", "Roles", "SSL", "Access"}

func newCheckCmd() *cobra.Command {
	var (
		metadataPath string
		app, module  string
		methods      []string
	)

	cmd := &cobra.Command{
		Use:   "check URI...",
		Short: "Show how the security constraints match request URIs",
		Long: `Loads a module metadata file and prints, for every URI and method, the
constraint pattern that applies, the roles it requires and whether the request
is precluded, uncovered or open to anonymous callers.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, uris []string) error {
			if metadataPath == "" {
				return errors.New("--metadata is required")
			}
			metadata := constraints.NewRegistry()
			if err := metadata.LoadFile(metadataPath); err != nil {
				return err
			}
			meta, err := metadata.Module(app, module)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s login: %s\n", app, module, meta.Login.Method())
			return renderMatches(cmd.OutOrStdout(), meta.Collection, uris, methods)
		},
	}

	cmd.Flags().StringVar(&metadataPath, "metadata", "", "Path to the module security metadata file (YAML)")
	cmd.Flags().StringVar(&app, "app", "default", "Application name")
	cmd.Flags().StringVar(&module, "module", "web", "Module name")
	cmd.Flags().StringSliceVar(&methods, "method", []string{http.MethodGet}, "HTTP methods to match")
	return cmd
}

func renderMatches(w io.Writer, col *constraints.Collection, uris, methods []string) error {
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader(checkHeaders),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(len(checkHeaders), tw.AlignLeft)),
	)

	for _, uri := range uris {
		for _, method := range methods {
			m := col.Match(uri, strings.ToUpper(method))
			pattern := m.Pattern
			if pattern == "" {
				pattern = "-"
			}
			roles := strings.Join(m.Roles, ",")
			if roles == "" {
				roles = "-"
			}
			ssl := "no"
			if m.SSLRequired {
				ssl = "yes"
			}
			if err := table.Append([]string{uri, strings.ToUpper(method), pattern, roles, ssl, access(m)}); err != nil {
				return fmt.Errorf("failed to append row: %w", err)
			}
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func access(m constraints.MatchResponse) string {
	switch {
	case m.AccessPrecluded && m.AccessUncovered:
		return "denied (uncovered method)"
	case m.AccessPrecluded:
		return "precluded"
	case m.Unprotected():
		return "anonymous"
	default:
		return "authenticated"
	}
}
