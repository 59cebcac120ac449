package compile

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ankaa-labs/chainwasm/load"
)

func Command() *cobra.Command {
	var outputPath string
	var noMetering bool
	var maxSize uint32
	var verbose bool

	command := &cobra.Command{
		Use:   "compile [path to module]",
		Short: "Compile a contract module to an artifact",
		Long:  "Compile a contract module to a directly executable artifact, injecting energy metering unless disabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			opts := load.Options{MaxModuleSize: maxSize}
			if verbose {
				logger, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				defer logger.Sync()
				opts.Logger = logger
			}

			instantiate := load.InstantiateWithMetering
			if noMetering {
				instantiate = load.Instantiate
			}
			a, err := instantiate(source, opts)
			if err != nil {
				return err
			}

			baseName := filepath.Base(args[0])
			baseName = baseName[:len(baseName)-len(filepath.Ext(baseName))]

			var dest io.Writer
			switch outputPath {
			case "":
				f, err := os.Create(baseName + ".cwsa")
				if err != nil {
					return err
				}
				defer f.Close()

				dest = f
			case "-":
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

			_, err = a.WriteTo(w)
			return err
		},
	}

	command.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "the path of the output artifact; defaults to the module name with a .cwsa extension, - for stdout")
	command.PersistentFlags().BoolVar(&noMetering, "no-metering", false, "skip energy metering injection")
	command.PersistentFlags().Uint32Var(&maxSize, "max-size", 0, "reject modules larger than this many bytes")
	command.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log each pipeline stage")

	return command
}
