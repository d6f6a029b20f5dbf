package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/schema"
)

// ValidationResult summarizes a valid schema set.
type ValidationResult struct {
	Valid   bool `json:"valid"`
	Schemas int  `json:"schemas"`
	Types   int  `json:"types"`
	Tables  int  `json:"tables"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [schemas-dir]",
		Short: "Check schema and type declarations",
		Long: `Load the CUE schema and type declarations and derive the table layout
from them, without connecting to a database.

The directory defaults to the schemas directory of the descriptor given
with --config.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	d, err := loadDescriptor(opts.Config)
	if err != nil {
		return formatter.Fail("invalid descriptor", err)
	}
	dir := d.Schemas
	if len(args) == 1 {
		dir = args[0]
	}
	formatter.VerboseLog("Loading schemas from %s", dir)

	reg, err := schema.LoadDir(dir)
	if err != nil {
		return outputValidationFailure(formatter, err)
	}
	m, err := model.New(reg, d.ModelConfig())
	if err != nil {
		return outputValidationFailure(formatter, err)
	}

	result := ValidationResult{
		Valid:   true,
		Schemas: len(reg.Schemas()),
		Types:   len(reg.Types()),
		Tables:  len(m.Tables()),
	}
	if formatter.isJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Schemas valid (%d schemas, %d types, %d tables)\n",
		result.Schemas, result.Types, result.Tables)
	return nil
}

func outputValidationFailure(formatter *OutputFormatter, err error) error {
	code := exitCodeFor(err)
	if code == ExitFailure && !formatter.isJSON() {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
	}
	_ = formatter.Error(ErrorCode(err), err.Error(), nil)
	if code == ExitFailure {
		return WrapExitError(code, "validation failed", err)
	}
	return WrapExitError(code, "cannot load schemas", err)
}
