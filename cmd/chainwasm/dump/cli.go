package dump

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankaa-labs/chainwasm/validate"
	"github.com/ankaa-labs/chainwasm/wasm"
)

func Command() *cobra.Command {
	var stats bool

	command := &cobra.Command{
		Use:   "dump [path to module]",
		Short: "Dump contract module contents",
		Long:  "Dump a contract module's sections, imports, exports, and functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			s, err := wasm.ParseSkeleton(source)
			if err != nil {
				return err
			}
			m, err := wasm.ParseModule(s)
			if err != nil {
				return err
			}
			vm, err := validate.ValidateModule(validate.AllowAll{}, m)
			if err != nil {
				return err
			}

			if stats {
				return dumpStats(os.Stdout, vm)
			}
			return dumpSummary(os.Stdout, s, vm)
		},
	}

	command.PersistentFlags().BoolVarP(&stats, "stats", "s", false, "dump per-function statistics in CSV format")

	return command
}

func dumpSummary(w io.Writer, s *wasm.Skeleton, vm *validate.ValidModule) error {
	m := vm.Module

	fmt.Fprintln(w, "sections:")
	for _, sec := range s.Sections {
		fmt.Fprintf(w, "  %s: %d bytes\n", sec.ID, len(sec.Bytes))
	}

	if len(vm.Imports) > 0 {
		fmt.Fprintln(w, "imports:")
		for i, imp := range vm.Imports {
			ty, _ := vm.FunctionType(uint32(i))
			fmt.Fprintf(w, "  %s.%s %s\n", imp.Module, imp.Name, ty)
		}
	}

	if len(m.Export.Exports) > 0 {
		fmt.Fprintln(w, "exports:")
		for _, e := range m.Export.Exports {
			if fe, ok := e.Desc.(wasm.FuncExport); ok {
				ty, _ := vm.FunctionType(fe.Index)
				fmt.Fprintf(w, "  %q func %d %s\n", e.Name, fe.Index, ty)
			} else {
				fmt.Fprintf(w, "  %q %s\n", e.Name, e.Desc.Kind())
			}
		}
	}

	fmt.Fprintln(w, "functions:")
	for i := range m.Code.Impls {
		idx := uint32(len(vm.Imports) + i)
		ty, _ := vm.FunctionType(idx)
		fmt.Fprintf(w, "  %d %s locals=%d maxstack=%d\n",
			idx, ty, m.Code.Impls[i].NumLocals(), vm.Metrics[i].MaxStackDepth)
	}
	return nil
}
