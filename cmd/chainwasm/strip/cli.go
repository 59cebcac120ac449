package strip

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankaa-labs/chainwasm/wasm"
)

func Command() *cobra.Command {
	var outputPath string

	command := &cobra.Command{
		Use:   "strip [path to module]",
		Short: "Remove custom sections from a module",
		Long:  "Remove all custom sections from a module without decoding its contents",
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
			s.Strip()

			var dest io.Writer
			switch outputPath {
			case "", "-":
				dest = os.Stdout
			default:
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer f.Close()

				dest = f
			}

			w := bufio.NewWriter(dest)
			defer w.Flush()

			_, err = s.WriteTo(w)
			return err
		},
	}

	command.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "the path of the stripped module; defaults to stdout")

	return command
}
