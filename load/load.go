// Package load is the front door of the compilation pipeline: it takes
// untrusted module bytes through skeleton parsing, full decoding, validation,
// optional metering injection, and artifact compilation as one atomic
// operation. Each stage fully succeeds or the whole load fails with that
// stage's error; no partial state is ever returned.
package load

import (
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/ankaa-labs/chainwasm/artifact"
	"github.com/ankaa-labs/chainwasm/metering"
	"github.com/ankaa-labs/chainwasm/validate"
	"github.com/ankaa-labs/chainwasm/wasm"
)

// Platform limits the executor enforces at run time. They are exposed here so
// the pipeline and its callers can pre-reject modules that could never run.
const (
	// MaxContractState is the largest persisted contract state, in bytes.
	MaxContractState = 16384

	// MaxActivationFrames caps call nesting during execution.
	MaxActivationFrames = 1024

	// MaxParameterSize is the largest parameter passed to a contract call,
	// in bytes.
	MaxParameterSize = 1024
)

// ErrModuleTooLarge is returned when the input exceeds Options.MaxModuleSize
// before any parsing starts.
var ErrModuleTooLarge = errors.New("load: module exceeds the maximum size")

// Options configures a load. The zero value validates against an
// allow-everything policy and logs nothing.
type Options struct {
	// Policy decides which host imports are permitted and which exports are
	// required. Nil permits everything.
	Policy validate.ImportExportPolicy

	// Logger receives per-stage debug logging. Nil disables logging.
	Logger *zap.Logger

	// MaxModuleSize rejects inputs larger than this many bytes before any
	// parsing. Zero means no limit.
	MaxModuleSize uint32
}

func (o *Options) policy() validate.ImportExportPolicy {
	if o.Policy == nil {
		return validate.AllowAll{}
	}
	return o.Policy
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Instantiate compiles source to an artifact without metering. The artifact
// owns its instruction streams, but data segment contents remain views into
// source, so source must outlive the artifact.
func Instantiate(source []byte, opts Options) (*artifact.Artifact, error) {
	vm, err := build(source, &opts)
	if err != nil {
		return nil, err
	}
	return compile(vm, &opts)
}

// InstantiateWithMetering compiles source to an artifact whose functions
// charge energy per basic block before executing it. This is the load path
// for on-chain deployment.
func InstantiateWithMetering(source []byte, opts Options) (*artifact.Artifact, error) {
	vm, err := build(source, &opts)
	if err != nil {
		return nil, err
	}
	vm = metering.Inject(vm)
	opts.logger().Debug("injected metering", zap.Int("functions", len(vm.Module.Code.Impls)))
	return compile(vm, &opts)
}

// ReadArtifact deserializes a previously compiled artifact. The buffer is
// borrowed: function code stays as views into buf, which must outlive the
// artifact. Artifacts are trusted input; use Instantiate for untrusted bytes.
func ReadArtifact(buf []byte) (*artifact.Artifact, error) {
	return artifact.ReadArtifact(buf)
}

// InstantiateFile loads and compiles a module from a file, without metering.
func InstantiateFile(path string, opts Options) (*artifact.Artifact, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Instantiate(source, opts)
}

func build(source []byte, opts *Options) (*validate.ValidModule, error) {
	log := opts.logger()

	if opts.MaxModuleSize != 0 && uint64(len(source)) > uint64(opts.MaxModuleSize) {
		return nil, ErrModuleTooLarge
	}

	s, err := wasm.ParseSkeleton(source)
	if err != nil {
		return nil, err
	}
	log.Debug("parsed skeleton", zap.Int("bytes", len(source)), zap.Int("sections", len(s.Sections)))

	m, err := wasm.ParseModule(s)
	if err != nil {
		return nil, err
	}
	log.Debug("parsed module",
		zap.Int("types", len(m.Type.Types)),
		zap.Int("imports", len(m.Import.Imports)),
		zap.Int("functions", len(m.Code.Impls)))

	vm, err := validate.ValidateModule(opts.policy(), m)
	if err != nil {
		return nil, err
	}
	log.Debug("validated module", zap.Int("imports", len(vm.Imports)))
	return vm, nil
}

func compile(vm *validate.ValidModule, opts *Options) (*artifact.Artifact, error) {
	a, err := artifact.Compile(vm)
	if err != nil {
		return nil, err
	}
	opts.logger().Debug("compiled artifact",
		zap.Int("functions", len(a.Functions)),
		zap.Int("exports", len(a.Exports)))
	return a, nil
}
