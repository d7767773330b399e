package executor

import (
	"os"
	"time"

	"github.com/seqlab/cappflow/internal/graph"
)

// Checker decides whether a task's outputs are already up to date and
// the action can be skipped. It is an interface so the mtime heuristic
// can be swapped for content-hash caching without touching dispatch.
type Checker interface {
	IsFresh(t *graph.Task) (bool, error)
}

// MTimeChecker is the make-style freshness rule: every declared output
// exists, and no input is newer than any output.
type MTimeChecker struct{}

// IsFresh implements Checker. A missing temporary input does not spoil
// freshness: it was deliberately deleted after a previous run, and the
// surviving outputs remain the record of that work. A missing
// non-temporary input always forces a rerun.
func (MTimeChecker) IsFresh(t *graph.Task) (bool, error) {
	var oldestOutput time.Time
	for i, out := range t.Outputs {
		info, err := os.Stat(out.Artifact.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		if i == 0 || info.ModTime().Before(oldestOutput) {
			oldestOutput = info.ModTime()
		}
	}
	if len(t.Outputs) == 0 {
		return false, nil
	}

	for _, in := range t.Inputs {
		info, err := os.Stat(in.Artifact.Path)
		if err != nil {
			if os.IsNotExist(err) {
				if in.Artifact.Temporary {
					continue
				}
				return false, nil
			}
			return false, err
		}
		if info.ModTime().After(oldestOutput) {
			return false, nil
		}
	}
	return true, nil
}
