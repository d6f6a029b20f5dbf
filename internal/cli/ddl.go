package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fragstore/internal/sqlinfo"
)

// DDLResult is the SQL generated for a repository.
type DDLResult struct {
	Dialect    string                 `json:"dialect"`
	DDL        []string               `json:"ddl"`
	Statements []TableStatementResult `json:"statements,omitempty"`
}

// TableStatementResult lists the per-table statements.
type TableStatementResult struct {
	Table      string            `json:"table"`
	Statements map[string]string `json:"statements"`
}

// statementKinds orders the per-table statements in text output.
var statementKinds = []string{"select", "insert", "update", "delete", "copy", "identity"}

type ddlOptions struct {
	statements bool
}

// NewDDLCommand creates the ddl command.
func NewDDLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ddlOptions{}
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print the SQL schema of a repository",
		Long: `Print the CREATE TABLE statements derived from the schemas of the
repository descriptor. With --statements, also print the statements
used to read and write each table.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDDL(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.statements, "statements", false, "also print per-table statements")
	return cmd
}

func runDDL(rootOpts *RootOptions, opts *ddlOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	cat, err := LoadCatalog(rootOpts.Config)
	if err != nil {
		return formatter.Fail("cannot load repository", err)
	}
	formatter.VerboseLog("Dialect %s, %d tables", cat.SQL.Dialect().Name(), len(cat.SQL.Tables()))

	result := DDLResult{
		Dialect: cat.SQL.Dialect().Name(),
		DDL:     cat.SQL.DDL(),
	}
	if opts.statements {
		for _, t := range cat.SQL.Tables() {
			result.Statements = append(result.Statements, TableStatementResult{
				Table:      t.Name(),
				Statements: tableStatements(t),
			})
		}
	}

	if formatter.isJSON() {
		return formatter.Success(result)
	}
	writeDDL(formatter.Writer, result)
	return nil
}

// tableStatements collects the statements a table defines. Collection
// tables have no update and only identity tables fetch generated ids.
func tableStatements(t *sqlinfo.Table) map[string]string {
	all := map[string]*sqlinfo.Statement{
		"select":   t.SelectByID(),
		"insert":   t.Insert(),
		"update":   t.Update(),
		"delete":   t.Delete(),
		"copy":     t.Copy(),
		"identity": t.IdentityFetch(),
	}
	out := make(map[string]string, len(all))
	for kind, st := range all {
		if st != nil {
			out[kind] = st.SQL
		}
	}
	return out
}

func writeDDL(w io.Writer, r DDLResult) {
	fmt.Fprintf(w, "-- dialect: %s\n", r.Dialect)
	for _, stmt := range r.DDL {
		fmt.Fprintf(w, "%s;\n", stmt)
	}
	for _, t := range r.Statements {
		fmt.Fprintf(w, "\n-- table %s\n", t.Table)
		for _, kind := range statementKinds {
			if sql, ok := t.Statements[kind]; ok {
				fmt.Fprintf(w, "-- %s\n%s;\n", kind, sql)
			}
		}
	}
}
