// Command csphash computes CSP hash sources for inline content and checks the
// hashes pinned in the gateway policy.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"goodlistseller-gate/internal/security"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "csphash",
		Short:         "CSP hash tooling for the gateway's inline allowlist",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetIn(stdin)

	var trim bool
	hashCmd := &cobra.Command{
		Use:   "hash [file...]",
		Short: "Print the 'sha256-...' source for each file, or stdin when no file is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), security.HashSource(content(b, trim)))
				return nil
			}
			for _, path := range args {
				b, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", security.HashSource(content(b, trim)), path)
			}
			return nil
		},
	}
	hashCmd.Flags().BoolVar(&trim, "trim", false, "strip one trailing newline before hashing")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every pinned inline hash against its content",
		RunE: func(cmd *cobra.Command, args []string) error {
			stale := 0
			for _, src := range security.InlineSources() {
				status := "ok"
				if src.Stale() {
					status = "stale, want " + security.HashSource(src.Content)
					stale++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s %-16s %s %s\n", src.Kind, src.Name, src.Pinned, status)
			}
			if stale > 0 {
				return fmt.Errorf("%d pinned hash(es) out of date", stale)
			}
			return nil
		},
	}

	root.AddCommand(hashCmd, verifyCmd)
	return root
}

// content drops the newline editors append, which the browser never sees
// inside a <script> element.
func content(b []byte, trim bool) string {
	s := string(b)
	if trim {
		s = strings.TrimSuffix(s, "\n")
	}
	return s
}
