package tools

import (
	"fmt"
	"path/filepath"

	"github.com/seqlab/cappflow/internal/config"
	"github.com/seqlab/cappflow/internal/stage"
)

// Stage names of the built-in CAPP-seq pipeline.
const (
	StageTrim       = "trim"
	StageAlign      = "align"
	StageTags       = "tags"
	StageDedup      = "dedup"
	StageFlagstat   = "qc_flagstat"
	StageStats      = "qc_stats"
	StageHsMetrics  = "qc_hs_metrics"
	StageInsertSize = "qc_insert_size"
	StageGcBias     = "qc_gc_bias"
	StageReport     = "report"
)

// Toolchain binds the configured executables to the stage templates.
type Toolchain struct {
	cfg      *config.Config
	logDir   string
	isolated bool
}

// New creates a toolchain for one run. When isolated is set every tool
// invocation is wrapped in its own conda environment.
func New(cfg *config.Config, isolated bool) *Toolchain {
	return &Toolchain{
		cfg:      cfg,
		logDir:   filepath.Join(cfg.OutputDir, stage.DirLogs),
		isolated: isolated,
	}
}

func (tc *Toolchain) action(env string, build buildFunc) stage.Action {
	return &command{tc: tc, env: env, build: build}
}

func threadsOr(configured, def int) int {
	if configured > 0 {
		return configured
	}
	return def
}

// Pipeline returns the ordered CAPP-seq stage templates: adapter
// trimming, alignment, tag normalization, duplicate marking, the QC
// collectors, and the cross-sample report. The hybrid-selection metrics
// stage is only included when a target BED is configured.
func (tc *Toolchain) Pipeline() []stage.Stage {
	t := tc.cfg.Tools
	ref := tc.cfg.Reference

	stages := []stage.Stage{
		{
			Name:      StageTrim,
			PerSample: true,
			Threads:   threadsOr(tc.cfg.Threads.Trim, 4),
			Inputs: []stage.InputRef{
				{Stage: stage.RawReads, Role: stage.RoleRead1},
				{Stage: stage.RawReads, Role: stage.RoleRead2},
			},
			Outputs: []stage.Output{
				{Role: "r1", Template: stage.DirTrimmed + "/{sample}.R1.fastq.gz"},
				{Role: "r2", Template: stage.DirTrimmed + "/{sample}.R2.fastq.gz"},
				{Role: "report", Template: stage.DirTrimmed + "/{sample}.fastp.json"},
			},
			Action: tc.action("fastp", func(req *stage.Request, out map[string]string) ([][]string, string) {
				return [][]string{{
					t.Fastp,
					"--in1", req.Input(stage.RoleRead1),
					"--in2", req.Input(stage.RoleRead2),
					"--out1", out["r1"],
					"--out2", out["r2"],
					"--json", out["report"],
					"--thread", fmt.Sprint(req.Threads),
				}}, ""
			}),
		},
		{
			Name:      StageAlign,
			PerSample: true,
			Threads:   threadsOr(tc.cfg.Threads.Align, 8),
			Inputs: []stage.InputRef{
				{Stage: StageTrim, Role: "r1"},
				{Stage: StageTrim, Role: "r2"},
			},
			Outputs: []stage.Output{
				{Role: "bam", Template: stage.DirAligned + "/{sample}.sorted.bam"},
			},
			Action: tc.action("align", func(req *stage.Request, out map[string]string) ([][]string, string) {
				rg := fmt.Sprintf(`@RG\tID:%s\tSM:%s\tLB:%s\tPL:ILLUMINA`, req.Sample, req.Sample, req.Sample)
				return [][]string{
					{t.BWA, "mem", "-t", fmt.Sprint(req.Threads), "-R", rg, ref, req.Input("r1"), req.Input("r2")},
					{t.Samtools, "sort", "-@", fmt.Sprint(req.Threads), "-o", out["bam"], "-"},
				}, ""
			}),
		},
		{
			Name:      StageTags,
			PerSample: true,
			Threads:   2,
			Inputs:    []stage.InputRef{{Stage: StageAlign, Role: "bam"}},
			Outputs: []stage.Output{
				// Superseded by the deduplicated BAM once marking is done.
				{Role: "bam", Template: stage.DirTagged + "/{sample}.calmd.bam", Temporary: true},
			},
			Action: tc.action("samtools", func(req *stage.Request, out map[string]string) ([][]string, string) {
				return [][]string{
					{t.Samtools, "calmd", "-b", "-@", fmt.Sprint(req.Threads), req.Input("bam"), ref},
				}, "bam"
			}),
		},
		{
			Name:      StageDedup,
			PerSample: true,
			Threads:   threadsOr(tc.cfg.Threads.Dedup, 4),
			Inputs:    []stage.InputRef{{Stage: StageTags, Role: "bam"}},
			Outputs: []stage.Output{
				{Role: "bam", Template: stage.DirDedup + "/{sample}.dedup.bam"},
				{Role: "metrics", Template: stage.DirDedup + "/{sample}.markdup.txt"},
			},
			Action: tc.action("samtools", func(req *stage.Request, out map[string]string) ([][]string, string) {
				return [][]string{{
					t.Samtools, "markdup",
					"-@", fmt.Sprint(req.Threads),
					"-f", out["metrics"],
					req.Input("bam"), out["bam"],
				}}, ""
			}),
		},
		{
			Name:      StageFlagstat,
			PerSample: true,
			Threads:   1,
			Inputs:    []stage.InputRef{{Stage: StageDedup, Role: "bam"}},
			Outputs: []stage.Output{
				{Role: "metrics", Template: stage.DirQC + "/flagstat/{sample}.flagstat.txt"},
			},
			Action: tc.action("samtools", func(req *stage.Request, out map[string]string) ([][]string, string) {
				return [][]string{{t.Samtools, "flagstat", req.Input("bam")}}, "metrics"
			}),
		},
		{
			Name:      StageStats,
			PerSample: true,
			Threads:   1,
			Inputs:    []stage.InputRef{{Stage: StageDedup, Role: "bam"}},
			Outputs: []stage.Output{
				{Role: "metrics", Template: stage.DirQC + "/stats/{sample}.stats.txt"},
			},
			Action: tc.action("samtools", func(req *stage.Request, out map[string]string) ([][]string, string) {
				return [][]string{{t.Samtools, "stats", "-r", ref, req.Input("bam")}}, "metrics"
			}),
		},
		{
			Name:      StageInsertSize,
			PerSample: true,
			Threads:   1,
			Inputs:    []stage.InputRef{{Stage: StageDedup, Role: "bam"}},
			Outputs: []stage.Output{
				{Role: "metrics", Template: stage.DirQC + "/insert_size/{sample}.insert_size.txt"},
				{Role: "histogram", Template: stage.DirQC + "/insert_size/{sample}.insert_size.pdf"},
			},
			Action: tc.action("picard", func(req *stage.Request, out map[string]string) ([][]string, string) {
				return [][]string{{
					t.Picard, "CollectInsertSizeMetrics",
					"-I", req.Input("bam"),
					"-O", out["metrics"],
					"-H", out["histogram"],
				}}, ""
			}),
		},
		{
			Name:      StageGcBias,
			PerSample: true,
			Threads:   1,
			Inputs:    []stage.InputRef{{Stage: StageDedup, Role: "bam"}},
			Outputs: []stage.Output{
				{Role: "metrics", Template: stage.DirQC + "/gc_bias/{sample}.gc_bias.txt"},
				{Role: "summary", Template: stage.DirQC + "/gc_bias/{sample}.gc_bias.summary.txt"},
				{Role: "chart", Template: stage.DirQC + "/gc_bias/{sample}.gc_bias.pdf"},
			},
			Action: tc.action("picard", func(req *stage.Request, out map[string]string) ([][]string, string) {
				return [][]string{{
					t.Picard, "CollectGcBiasMetrics",
					"-I", req.Input("bam"),
					"-O", out["metrics"],
					"-S", out["summary"],
					"-CHART", out["chart"],
					"-R", ref,
				}}, ""
			}),
		},
	}

	if tc.cfg.Targets != "" {
		stages = append(stages, stage.Stage{
			Name:      StageHsMetrics,
			PerSample: true,
			Threads:   1,
			Inputs:    []stage.InputRef{{Stage: StageDedup, Role: "bam"}},
			Outputs: []stage.Output{
				{Role: "metrics", Template: stage.DirQC + "/hs_metrics/{sample}.hs_metrics.txt"},
			},
			Action: tc.action("picard", func(req *stage.Request, out map[string]string) ([][]string, string) {
				return [][]string{{
					t.Picard, "CollectHsMetrics",
					"-I", req.Input("bam"),
					"-O", out["metrics"],
					"-R", ref,
					"--BAIT_INTERVALS", tc.cfg.Targets,
					"--TARGET_INTERVALS", tc.cfg.Targets,
				}}, ""
			}),
		})
	}

	aggregateInputs := []stage.InputRef{
		{Stage: StageTrim, Role: "report", AllSamples: true},
		{Stage: StageDedup, Role: "metrics", AllSamples: true},
		{Stage: StageFlagstat, Role: "metrics", AllSamples: true},
		{Stage: StageStats, Role: "metrics", AllSamples: true},
		{Stage: StageInsertSize, Role: "metrics", AllSamples: true},
		{Stage: StageGcBias, Role: "metrics", AllSamples: true},
	}
	if tc.cfg.Targets != "" {
		aggregateInputs = append(aggregateInputs,
			stage.InputRef{Stage: StageHsMetrics, Role: "metrics", AllSamples: true})
	}
	stages = append(stages, stage.Stage{
		Name:    StageReport,
		Threads: 1,
		Inputs:  aggregateInputs,
		Outputs: []stage.Output{
			{Role: "html", Template: stage.DirReport + "/report.html"},
			{Role: "manifest", Template: stage.DirReport + "/aggregate_manifest.yaml"},
		},
		Action: &aggregate{tc: tc},
	})

	return stages
}
