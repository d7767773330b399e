package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes an HCL config plus the reference/target fixtures
// it points at, substituting ${d} with the temp dir.
func writeConfig(t *testing.T, content string, fixtures ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range fixtures {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("fixture\n"), 0o644))
	}
	path := filepath.Join(dir, "run.hcl")
	// Only ${d} is expanded here; ${base_dir} is left for HCL itself.
	expanded := os.Expand(content, func(name string) string {
		if name == "d" {
			return dir
		}
		return "${" + name + "}"
	})
	require.NoError(t, os.WriteFile(path, []byte(expanded), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("full config decodes with defaults applied", func(t *testing.T) {
		path := writeConfig(t, `
output_dir = "${d}/results"
reference  = "${d}/ref.fa"
targets    = "${d}/panel.bed"

tools {
  samtools = "/opt/samtools/bin/samtools"
}

threads {
  align = 12
}
`, "ref.fa", "panel.bed")

		cfg, err := Load(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "/opt/samtools/bin/samtools", cfg.Tools.Samtools)
		assert.Equal(t, "fastp", cfg.Tools.Fastp, "unset tools fall back to PATH names")
		assert.Equal(t, 12, cfg.Threads.Align)
		assert.Zero(t, cfg.Threads.Trim)
	})

	t.Run("base_dir variable resolves to the config directory", func(t *testing.T) {
		path := writeConfig(t, `
output_dir = "${base_dir}/results"
reference  = "${d}/ref.fa"
`, "ref.fa")

		cfg, err := Load(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(filepath.Dir(path), "results"), cfg.OutputDir)
	})

	t.Run("missing required key", func(t *testing.T) {
		path := writeConfig(t, `
output_dir = "${d}/results"
`)
		_, err := Load(ctx, path)
		assert.ErrorContains(t, err, `required key "reference"`)
	})

	t.Run("placeholder value is rejected", func(t *testing.T) {
		path := writeConfig(t, `
output_dir = "CHANGE_ME"
reference  = "${d}/ref.fa"
`, "ref.fa")
		_, err := Load(ctx, path)
		assert.ErrorContains(t, err, "placeholder")
	})

	t.Run("nonexistent reference path", func(t *testing.T) {
		path := writeConfig(t, `
output_dir = "${d}/results"
reference  = "${d}/missing.fa"
`)
		_, err := Load(ctx, path)
		assert.ErrorContains(t, err, "does not exist")
	})

	t.Run("unparsable HCL", func(t *testing.T) {
		path := writeConfig(t, `output_dir = `)
		_, err := Load(ctx, path)
		assert.ErrorContains(t, err, "failed to parse config file")
	})
}
