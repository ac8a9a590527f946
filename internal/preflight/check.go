package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Aman-CERP/nexus/internal/config"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical problem.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the lowercase status name.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pass":
		*s = StatusPass
	case "warn":
		*s = StatusWarn
	case "fail":
		*s = StatusFail
	default:
		return fmt.Errorf("unknown check status %q", text)
	}
	return nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Probes reads the machine. Tests replace them.
type Probes struct {
	FreeDisk     func(path string) (uint64, error)
	AvailableMem func() (uint64, error)
	FileLimit    func() (uint64, error)
	OCRAvailable func() bool
	Embedder     func(ctx context.Context, cfg config.EmbeddingsConfig) (model string, err error)
}

// Checker performs preflight checks for one store root.
type Checker struct {
	cfg       *config.Config
	cfgErr    error
	storeRoot string
	probes    Probes
}

// Option configures a Checker.
type Option func(*Checker)

// WithConfigError records why the configuration could not be loaded.
func WithConfigError(err error) Option {
	return func(c *Checker) {
		c.cfgErr = err
	}
}

// WithProbes replaces the non-nil probes in p.
func WithProbes(p Probes) Option {
	return func(c *Checker) {
		if p.FreeDisk != nil {
			c.probes.FreeDisk = p.FreeDisk
		}
		if p.AvailableMem != nil {
			c.probes.AvailableMem = p.AvailableMem
		}
		if p.FileLimit != nil {
			c.probes.FileLimit = p.FileLimit
		}
		if p.OCRAvailable != nil {
			c.probes.OCRAvailable = p.OCRAvailable
		}
		if p.Embedder != nil {
			c.probes.Embedder = p.Embedder
		}
	}
}

// New creates a Checker. cfg may be nil when loading it failed.
func New(cfg *config.Config, storeRoot string, opts ...Option) *Checker {
	c := &Checker{
		cfg:       cfg,
		storeRoot: storeRoot,
		probes: Probes{
			FreeDisk:     freeDisk,
			AvailableMem: availableMemory,
			FileLimit:    fileLimit,
			OCRAvailable: ocrAvailable,
			Embedder:     probeEmbedder,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check in a fixed order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckConfig(),
		c.CheckDiskSpace(),
		c.CheckMemory(),
		c.CheckStoreWritable(),
		c.CheckFileDescriptors(),
	}
	if c.cfg != nil {
		results = append(results, c.CheckEmbedder(ctx), c.CheckOCR())
	}
	return results
}

// CheckConfig reports whether the effective configuration is valid.
func (c *Checker) CheckConfig() CheckResult {
	result := CheckResult{Name: "config", Required: true}
	err := c.cfgErr
	if err == nil && c.cfg == nil {
		err = fmt.Errorf("no configuration loaded")
	}
	if err == nil {
		err = c.cfg.Validate()
	}
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		result.Details = "Fix the config file or run 'nexus config init --force'"
		return result
	}
	result.Status = StatusPass
	result.Message = "OK"
	if path := config.SourcePath("."); path != "" {
		result.Details = "Loaded from " + path
	}
	return result
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns ready, ready_with_warnings or failed.
func SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a plain-text report.
func PrintResults(w io.Writer, results []CheckResult, verbose bool) {
	_, _ = fmt.Fprintln(w, "nexus System Check")
	_, _ = fmt.Fprintln(w, "==================")
	_, _ = fmt.Fprintln(w)

	var warnings, errs []string
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", strings.ToUpper(r.Status.String()), r.Name, r.Message)
		if verbose && r.Details != "" {
			_, _ = fmt.Fprintf(w, "       %s\n", r.Details)
		}
		switch {
		case r.IsCritical():
			errs = append(errs, r.Name+": "+r.Message)
		case r.Status != StatusPass:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Status: %s\n", strings.ToUpper(SummaryStatus(results)))
	printList(w, "error", errs)
	printList(w, "warning", warnings)
}

func printList(w io.Writer, kind string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "%d %s(s):\n", len(items), kind)
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "  - %s\n", item)
	}
}

// CheckStoreWritable creates the store root if needed and writes a probe
// file into it.
func (c *Checker) CheckStoreWritable() CheckResult {
	result := CheckResult{Name: "store_writable", Required: true}

	if err := os.MkdirAll(c.storeRoot, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create store: %v", err)
		return result
	}
	f, err := os.CreateTemp(c.storeRoot, ".doctor-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = c.storeRoot
	return result
}
