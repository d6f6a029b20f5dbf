package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/queryir"
	"github.com/roach88/fragstore/internal/querysql"
	"github.com/roach88/fragstore/internal/session"
)

// QueryResult is a compiled query and, when executed, its result.
type QueryResult struct {
	SQL    string   `json:"sql"`
	Params []any    `json:"params"`
	IDs    []string `json:"ids,omitempty"`
}

type queryOptions struct {
	exec bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query <query>",
		Short: "Compile a document query to SQL",
		Long: `Compile a query such as

  SELECT * FROM File WHERE dc:title LIKE 'rep%' ORDER BY dc:modified DESC

to the SQL run against the repository. With --exec, also run it and print
the ids of the matching documents.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.exec, "exec", false, "run the query and print matching ids")
	return cmd
}

func runQuery(rootOpts *RootOptions, opts *queryOptions, text string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	q, err := queryir.Parse(text)
	if err != nil {
		_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid query", err)
	}

	cat, err := LoadCatalog(rootOpts.Config)
	if err != nil {
		return formatter.Fail("cannot load repository", err)
	}
	sql, params, err := querysql.NewQueryMaker(cat.SQL).Compile(q)
	if err != nil {
		return formatter.Fail("cannot compile query", err)
	}
	result := QueryResult{SQL: sql, Params: params}
	if result.Params == nil {
		result.Params = []any{}
	}

	if opts.exec {
		ids, err := execQuery(rootOpts, text, cmd)
		if err != nil {
			return formatter.Fail("query failed", err)
		}
		result.IDs = make([]string, len(ids))
		for i, id := range ids {
			result.IDs[i] = model.FormatID(id)
		}
		formatter.VerboseLog("%d document(s) matched", len(ids))
	}

	if formatter.isJSON() {
		return formatter.Success(result)
	}
	writeQuery(formatter.Writer, result, opts.exec)
	return nil
}

// execQuery runs text in a fresh session of the repository.
func execQuery(opts *RootOptions, text string, cmd *cobra.Command) ([]model.ID, error) {
	d, err := loadDescriptor(opts.Config)
	if err != nil {
		return nil, err
	}
	repo, err := session.Open(cmd.Context(), d, session.WithLogger(newLogger(opts, cmd.ErrOrStderr())))
	if err != nil {
		return nil, err
	}
	defer repo.Close()

	s, err := repo.NewSession(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.QueryIDs(cmd.Context(), text)
}

func writeQuery(w io.Writer, r QueryResult, executed bool) {
	fmt.Fprintln(w, r.SQL)
	for i, p := range r.Params {
		fmt.Fprintf(w, "  $%d = %v\n", i+1, p)
	}
	if !executed {
		return
	}
	fmt.Fprintf(w, "\n%d document(s)\n", len(r.IDs))
	for _, id := range r.IDs {
		fmt.Fprintln(w, id)
	}
}
