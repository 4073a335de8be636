// Package cli implements the repoqa command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/repo-assistant/internal/adapters/mcp"
	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/core/ports"
)

// Services are the use cases a command runs against.
type Services struct {
	Answerer  ports.QuestionAnswerer
	Rebuilder ports.IndexRebuilder
	Inspector ports.IndexInspector
	Close     func()
}

// Factory builds Services on first use so --help never touches the network.
type Factory func(ctx context.Context) (*Services, error)

func NewRootCommand(factory Factory) *cobra.Command {
	root := &cobra.Command{
		Use:          "repoqa",
		Short:        "Ask questions about remote repositories",
		SilenceUsage: true,
		Long: `repoqa indexes GitLab or GitHub repositories into a local vector index and
answers questions using structural hints and the closest chunks.`,
	}
	root.AddCommand(
		newAskCommand(factory),
		newRebuildCommand(factory),
		newStatusCommand(factory),
		newMCPCommand(factory),
	)
	return root
}

func withServices(cmd *cobra.Command, factory Factory, fn func(*Services) error) error {
	services, err := factory(cmd.Context())
	if err != nil {
		return err
	}
	if services.Close != nil {
		defer services.Close()
	}
	return fn(services)
}

func newAskCommand(factory Factory) *cobra.Command {
	var project, ref string
	var showContext bool
	cmd := &cobra.Command{
		Use:   "ask --project P question...",
		Short: "Answer a question about a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withServices(cmd, factory, func(s *Services) error {
				answer, err := s.Answerer.Answer(cmd.Context(), project, question, ref)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, answer.Text)
				if showContext {
					printContext(out, answer.Context)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project id (group/name, owner/repo or numeric id)")
	cmd.Flags().StringVar(&ref, "ref", domain.DefaultRef, "Branch, tag or commit")
	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the context items used for the answer")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newRebuildCommand(factory Factory) *cobra.Command {
	var project, ref string
	var appendMode bool
	cmd := &cobra.Command{
		Use:   "rebuild --project P",
		Short: "Rebuild the vector index of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, factory, func(s *Services) error {
				run, err := s.Rebuilder.Rebuild(cmd.Context(), project, ref, domain.RebuildOptions{Append: appendMode})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK files=%d indexed=%d skipped=%d chunks=%d\n",
					run.FilesTotal, run.FilesIndexed, run.FilesSkipped, run.Chunks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project id")
	cmd.Flags().StringVar(&ref, "ref", domain.DefaultRef, "Branch, tag or commit")
	cmd.Flags().BoolVar(&appendMode, "append", false, "Append to the existing index instead of replacing it")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newStatusCommand(factory Factory) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "status --project P",
		Short: "Show the live index and the latest rebuild of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, factory, func(s *Services) error {
				status, err := s.Inspector.Status(cmd.Context(), project)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newMCPCommand(factory Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve ask_repository, rebuild_index and index_status as MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, factory, func(s *Services) error {
				server := mcpadapter.NewServer(s.Answerer, s.Rebuilder, s.Inspector, nil)
				return server.ServeStdio(cmd.Context())
			})
		},
	}
}

func printContext(w io.Writer, items []domain.ContextItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "\n(no context)")
		return
	}
	fmt.Fprintln(w, "\nContext:")
	for i, item := range items {
		if item.Kind == domain.ContextStructural {
			fmt.Fprintf(w, "%d. [structural] %s\n", i+1, item.Path)
			continue
		}
		fmt.Fprintf(w, "%d. [vector %.3f] %s#%d\n", i+1, item.Score, item.Path, item.ChunkID)
	}
}
