package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/fitsgate/internal/catalog"
	"example.com/fitsgate/internal/common"
	"example.com/fitsgate/internal/config"
	"example.com/fitsgate/internal/fits"
)

// envFlags are accepted by every command that reads FITS data.
type envFlags struct {
	config  *string
	metrics *bool
	logDir  *string
}

func addEnvFlags(fs *flag.FlagSet) envFlags {
	return envFlags{
		config:  fs.String("config", "", "YAML config file"),
		metrics: fs.Bool("metrics", false, "print throughput metrics when done"),
		logDir:  fs.String("log-dir", "", "also write logs to a rotating file in this directory"),
	}
}

type cliEnv struct {
	cfg     config.Config
	metrics *common.Metrics
	closer  io.Closer
}

func (f envFlags) open() (*cliEnv, error) {
	env := &cliEnv{cfg: config.Default()}
	if *f.config != "" {
		cfg, err := config.Load(*f.config)
		if err != nil {
			return nil, err
		}
		env.cfg = cfg
	}
	if *f.logDir != "" {
		lc := env.cfg.Logs
		lc.Directory = *f.logDir
		lc.Filename = "fitsctl.log"
		closer, err := common.SetupLogging(lc, os.Stderr)
		if err != nil {
			return nil, err
		}
		env.closer = closer
	}
	if *f.metrics {
		env.metrics = common.NewMetrics()
		env.metrics.Start()
	}
	return env, nil
}

func (e *cliEnv) readOptions() fits.ReadOptions {
	return e.cfg.ReadOptions(e.metrics)
}

func (e *cliEnv) openCatalog(override string) (*catalog.Catalog, error) {
	path := override
	if path == "" {
		path = e.cfg.Catalog
	}
	if path == "" {
		return nil, errors.New("no catalog: use --catalog or set catalog in the config")
	}
	return catalog.Open(path)
}

func (e *cliEnv) finish(out io.Writer) {
	if e.metrics != nil {
		e.metrics.Stop()
		fmt.Fprintln(out, "Metrics: "+e.metrics.Snapshot().Summary())
	}
	if e.closer != nil {
		e.closer.Close()
	}
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// parseAssignments turns KEY=VALUE pairs into header values. Keys are
// upper-cased and values are typed the way card values are.
func parseAssignments(sets []string) (fits.Header, error) {
	h := fits.Header{}
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.ToUpper(strings.TrimSpace(k))
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want KEY=VALUE", s)
		}
		h[k] = fits.ParseValue(strings.TrimSpace(v))
	}
	return h, nil
}

// loadHeaderSidecar reads a YAML or JSON mapping of keyword to value.
func loadHeaderSidecar(path string) (fits.Header, []fits.KeyError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("header %s: %w", path, err)
	}
	h, skipped := fits.HeaderFromMap(raw)
	return h, skipped, nil
}

// buildHeader merges the sidecar with --set values; --set wins.
func buildHeader(sidecar string, sets []string) (fits.Header, []fits.KeyError, error) {
	h := fits.Header{}
	var skipped []fits.KeyError
	if sidecar != "" {
		var err error
		h, skipped, err = loadHeaderSidecar(sidecar)
		if err != nil {
			return nil, nil, err
		}
	}
	assigned, err := parseAssignments(sets)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range assigned {
		h[k] = v
	}
	return h, skipped, nil
}

func inputs(in string, fs *flag.FlagSet) []string {
	var paths []string
	if in != "" {
		paths = append(paths, in)
	}
	return append(paths, fs.Args()...)
}

func singleInput(in string, fs *flag.FlagSet) (string, error) {
	paths := inputs(in, fs)
	if len(paths) != 1 {
		return "", errors.New("required: exactly one input file (--in or argument)")
	}
	return paths[0], nil
}
