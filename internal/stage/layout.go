package stage

// Numbered stage directories under the run output directory. Downstream
// stages locate upstream outputs purely through this naming convention,
// so the names are part of the on-disk contract, not cosmetic.
const (
	DirTrimmed = "01_trimmed"
	DirAligned = "02_aligned"
	DirTagged  = "03_tagged"
	DirDedup   = "04_dedup"
	DirQC      = "05_qc"
	DirReport  = "06_report"

	// DirLogs holds per-task tool logs referenced by the final status table.
	DirLogs = "logs"
)
