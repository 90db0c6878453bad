package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
	"github.com/holmes89/harbor-seal/lib/app"
	"github.com/holmes89/harbor-seal/lib/config"
	"github.com/holmes89/harbor-seal/lib/registry"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	services, err := app.New(config.Load(), logger)
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := rootCmd(services).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd(services *app.App) *cobra.Command {
	root := &cobra.Command{
		Use:           "inspect",
		Short:         "Ingest PDF documents and ask questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		ingestCmd(services),
		askCmd(services),
		historyCmd(services),
		clearCmd(services),
		listCmd(services),
		removeCmd(services),
	)
	return root
}

func ingestCmd(services *app.App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Load and index a PDF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := confirmOverwrite
			if yes {
				policy = registry.Always
			}
			result, err := services.Registry.Ingest(cmd.Context(), args[0], policy)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (%s)\n", result.Status, result.Document.Name, result.Document.ID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "re-index without asking when the file is already indexed")
	return cmd
}

// confirmOverwrite is the interactive re-index policy. The decision belongs
// here in the presentation layer, not in the registry.
func confirmOverwrite(existing *harborseal.Document) bool {
	fmt.Printf("File %q is already indexed. Re-index it? [y/N]: ", existing.Name)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func askCmd(services *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <document-id> <question>",
		Short: "Ask a question about an ingested document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			document, err := lookupDocument(cmd.Context(), services, args[0])
			if err != nil {
				return err
			}
			answer, err := services.Agent.Query(cmd.Context(), document, args[1])
			if err != nil {
				return err
			}
			fmt.Println(answer.Answer)
			return nil
		},
	}
}

func historyCmd(services *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "history <document-id>",
		Short: "Show the conversation history for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, turn := range services.Agent.History(cmd.Context(), args[0]) {
				fmt.Printf("[%s] %s: %s\n", turn.Timestamp.Format("2006-01-02 15:04:05"), turn.Role, turn.Content)
			}
			return nil
		},
	}
}

func clearCmd(services *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <document-id>",
		Short: "Clear the session and history for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services.Agent.Clear(cmd.Context(), args[0])
			fmt.Println("cleared")
			return nil
		},
	}
}

func listCmd(services *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			documents, err := services.Registry.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, document := range documents {
				fmt.Printf("%s  %s  %d bytes  %s\n",
					document.ID, document.Name, document.Size, document.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func removeCmd(services *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <document-id>",
		Short: "Remove an ingested document and its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.Registry.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			services.Agent.Clear(cmd.Context(), args[0])
			fmt.Println("removed")
			return nil
		},
	}
}

func lookupDocument(ctx context.Context, services *app.App, id string) (*harborseal.Document, error) {
	return services.Registry.Get(ctx, id)
}
