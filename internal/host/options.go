package host

import "os"

// Options is the configuration bundle for one host run, assembled from
// CLI input plus environment. AppName and Args are mutated during name
// resolution; everything else is read-only after construction.
type Options struct {
	// Target is the dialect projects compile against unless a manifest
	// overrides it. Empty means the default dialect.
	Target string

	// Configuration is the build configuration name. "release" escalates
	// warnings to errors.
	Configuration string

	// PackagesDir is where bare-name dependencies are searched. Optional.
	PackagesDir string

	// BaseDir is the application base directory.
	BaseDir string

	// AppName is the candidate application name; resolved during startup.
	AppName string

	// Args are the program arguments forwarded to the entry function.
	Args []string

	// Watch re-enters the compile step when watched files change.
	Watch bool

	// OmitDebug skips debug-symbol emission.
	OmitDebug bool

	// TerseLoadErrors suppresses underlying loader failure detail in the
	// entry-point-not-found message.
	TerseLoadErrors bool

	// Version is the host version string reported to command templates.
	Version string

	LogLevel  string
	LogFormat string
}

// DefaultConfiguration is used when no configuration is given.
const DefaultConfiguration = "debug"

// Normalize fills unset fields from the environment and defaults.
func (o *Options) Normalize() error {
	if o.Target == "" {
		o.Target = os.Getenv("KILN_TARGET")
	}
	if o.PackagesDir == "" {
		o.PackagesDir = os.Getenv("KILN_PACKAGES")
	}
	if o.Configuration == "" {
		o.Configuration = os.Getenv("KILN_CONFIGURATION")
	}
	if o.Configuration == "" {
		o.Configuration = DefaultConfiguration
	}
	if os.Getenv("KILN_NO_DEBUG") != "" {
		o.OmitDebug = true
	}
	if o.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		o.BaseDir = wd
	}
	return nil
}

// WarningsAsErrors reports whether the configuration escalates warnings.
func (o *Options) WarningsAsErrors() bool {
	return o.Configuration == "release"
}
