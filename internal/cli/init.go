package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/session"
)

// InitResult describes an initialized repository.
type InitResult struct {
	Name    string `json:"name"`
	Dialect string `json:"dialect"`
	Root    string `json:"root"`
	Tables  int    `json:"tables"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the tables and the root node",
		Long: `Create the tables of the repository described by --config and its root
node. Running init again on an initialized database changes nothing and
prints the same root id.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
	return cmd
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	d, err := loadDescriptor(opts.Config)
	if err != nil {
		return formatter.Fail("invalid descriptor", err)
	}
	formatter.VerboseLog("Opening %s repository %q", d.Dialect, d.Name)

	repo, err := session.Open(cmd.Context(), d, session.WithLogger(newLogger(opts, cmd.ErrOrStderr())))
	if err != nil {
		return formatter.Fail("cannot open repository", err)
	}
	defer repo.Close()

	root, err := repo.Init(cmd.Context())
	if err != nil {
		return formatter.Fail("cannot initialize repository", err)
	}

	result := InitResult{
		Name:    d.Name,
		Dialect: d.Dialect,
		Root:    model.FormatID(root),
		Tables:  len(repo.SQLInfo().Tables()),
	}
	if formatter.isJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Repository %s initialized (%d tables, root %s)\n",
		result.Name, result.Tables, result.Root)
	return nil
}
