package cmd

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"
)

func docsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "docs",
		Aliases: []string{"doc"},
		Short:   "Read documents from the vault",
	}
	cmd.AddCommand(docsOpenCmd())
	cmd.AddCommand(docsLastCmd())
	return cmd
}

func docsOpenCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Print a document and remember it as the last opened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.Document(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if dir := path.Dir(doc.Path); dir != "." {
				a.Prefs.SetLastFolder(cmd.Context(), dir)
			}
			if !raw {
				fmt.Printf("# %s  (modified %s)\n\n", doc.Path, formatTime(&doc.ModifiedAt))
			}
			fmt.Println(doc.Content)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print content only")
	return cmd
}

func docsLastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Show the last opened document and folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, folder := a.Prefs.LastDocument(cmd.Context()), a.Prefs.LastFolder(cmd.Context())
			if doc == "" && folder == "" {
				fmt.Println("No document opened yet.")
				return nil
			}
			fmt.Printf("Document: %s\nFolder:   %s\n", orNone(doc), orNone(folder))
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
