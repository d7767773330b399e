// Package config loads and validates the run configuration. The file is
// HCL; path-valued attributes may reference the ${base_dir} variable,
// which resolves to the directory containing the config file.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config is the validated run configuration handed to the graph builder
// and executor. It is immutable after Load; independent runs in one
// process each carry their own Config.
type Config struct {
	// OutputDir is the base directory for all numbered stage directories.
	// Tagged optional so validate owns the missing-key error message.
	OutputDir string `hcl:"output_dir,optional"`
	// Reference is the genome FASTA used by alignment and QC stages.
	Reference string `hcl:"reference,optional"`
	// Targets is the BED file describing the capture panel regions.
	Targets string `hcl:"targets,optional"`
	// ProgressURL, when set, enables streaming task state events to a
	// socket.io monitoring endpoint.
	ProgressURL string `hcl:"progress_url,optional"`

	Tools   *Tools   `hcl:"tools,block"`
	Threads *Threads `hcl:"threads,block"`
}

// Tools names the external executables. Empty fields fall back to the
// conventional names on PATH.
type Tools struct {
	Fastp    string `hcl:"fastp,optional"`
	BWA      string `hcl:"bwa,optional"`
	Samtools string `hcl:"samtools,optional"`
	Picard   string `hcl:"picard,optional"`
	MultiQC  string `hcl:"multiqc,optional"`
}

// Threads holds per-stage thread requests. Zero means the stage's
// built-in default.
type Threads struct {
	Trim  int `hcl:"trim,optional"`
	Align int `hcl:"align,optional"`
	Dedup int `hcl:"dedup,optional"`
}

// placeholder is rejected wherever it appears so half-edited template
// configs fail loudly instead of producing garbage paths.
const placeholder = "CHANGE_ME"

func defaultTools() *Tools {
	return &Tools{
		Fastp:    "fastp",
		BWA:      "bwa-mem2",
		Samtools: "samtools",
		Picard:   "picard",
		MultiQC:  "multiqc",
	}
}

// validate enforces the load-time contract: required keys present, no
// placeholder values, referenced paths exist.
func (c *Config) validate() error {
	required := map[string]string{
		"output_dir": c.OutputDir,
		"reference":  c.Reference,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("config: required key %q is missing or empty", key)
		}
	}
	for key, value := range map[string]string{
		"output_dir":   c.OutputDir,
		"reference":    c.Reference,
		"targets":      c.Targets,
		"progress_url": c.ProgressURL,
	} {
		if strings.Contains(value, placeholder) {
			return fmt.Errorf("config: key %q still holds the placeholder value %q", key, placeholder)
		}
	}
	for key, path := range map[string]string{
		"reference": c.Reference,
		"targets":   c.Targets,
	} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config: %s file %q does not exist", key, path)
		}
	}

	if c.Tools == nil {
		c.Tools = defaultTools()
	} else {
		defaults := defaultTools()
		fill(&c.Tools.Fastp, defaults.Fastp)
		fill(&c.Tools.BWA, defaults.BWA)
		fill(&c.Tools.Samtools, defaults.Samtools)
		fill(&c.Tools.Picard, defaults.Picard)
		fill(&c.Tools.MultiQC, defaults.MultiQC)
	}
	if c.Threads == nil {
		c.Threads = &Threads{}
	}
	return nil
}

func fill(field *string, def string) {
	if *field == "" {
		*field = def
	}
}
