package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Log sink names understood by internal/log. Anything else is a file path.
const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int     `json:"version"` // fixed 0 for now
	Scan    Scan    `json:"scan"`
	Service Service `json:"service"`
}

// Scan describes the external scanner invocation. The final command line is
// binary + args + target, where the caller-supplied parameters may replace
// target and the -T timing flag.
type Scan struct {
	Binary string   `json:"binary"`         // path or name (e.g. nmap)
	Args   []string `json:"args,omitempty"` // fixed flags, e.g. -sn -T4
	Target string   `json:"target"`         // default range
}

// Service holds settings of the caller-facing layer.
type Service struct {
	Listen  string `json:"listen"`            // host:port of the HTTP API
	Verbose bool   `json:"verbose,omitempty"`
	Log     string `json:"log,omitempty"`     // "stderr"|"stdout"|"discard"|path
	History string `json:"history,omitempty"` // sqlite file, empty disables
}

// DefaultConfig returns the configuration used when no file exists yet. It
// must stay in sync with the defaults of the embedded CUE schema.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Scan: Scan{
			Binary: "nmap",
			Args:   []string{"-sn", "-T4"},
			Target: "192.168.1.0/24",
		},
		Service: Service{
			Listen: "localhost:8489",
			Log:    LogStderr,
		},
	}
}

// LoadConfig validates YAML from r against the CUE schema and decodes it.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}
