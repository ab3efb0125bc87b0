package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Result is the outcome of one task.
type Result struct {
	Task     string
	State    State
	Err      error
	Duration time.Duration
}

// Report collects the results of one Executor.Run, in execution order.
type Report struct {
	Start   time.Time
	End     time.Time
	Results []Result
}

// Count returns how many tasks ended in s.
func (r *Report) Count(s State) int {
	n := 0
	for _, res := range r.Results {
		if res.State == s {
			n++
		}
	}
	return n
}

// Lookup returns the result for a task.
func (r *Report) Lookup(task string) (Result, bool) {
	for _, res := range r.Results {
		if res.Task == task {
			return res, true
		}
	}
	return Result{}, false
}

type failedEntry struct {
	Task   string `json:"task"`
	Reason string `json:"reason"`
}

// Report file names, written next to the data they describe.
const (
	SuccessReportFile = ".lastrun.success.json"
	FailedReportFile  = ".lastrun.failed.json"
)

// WriteRunReport writes the executed and failed task lists to dir. Nothing
// is written for a run in which every task was up to date. A failed report
// left by an earlier run is removed once a run has no failures.
func WriteRunReport(dir string, r *Report) error {
	var successList []string
	var failedList []failedEntry
	for _, res := range r.Results {
		switch res.State {
		case Succeeded:
			successList = append(successList, res.Task)
		case Failed:
			failedList = append(failedList, failedEntry{Task: res.Task, Reason: errString(res.Err)})
		}
	}
	if len(failedList) == 0 {
		if err := removeReport(filepath.Join(dir, FailedReportFile)); err != nil {
			return err
		}
	}
	if len(successList) == 0 && len(failedList) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if len(successList) > 0 {
		p := filepath.Join(dir, SuccessReportFile)
		if err := writeIndented(p, successList); err != nil {
			return err
		}
		slog.Info("report wrote success", "path", p, "tasks", len(successList))
	} else if err := removeReport(filepath.Join(dir, SuccessReportFile)); err != nil {
		return err
	}
	if len(failedList) > 0 {
		p := filepath.Join(dir, FailedReportFile)
		if err := writeIndented(p, failedList); err != nil {
			return err
		}
		slog.Info("report wrote failed", "path", p, "count", len(failedList), "reasons", joinFailedReasons(failedList))
	}
	return nil
}

func removeReport(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func writeIndented(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func joinFailedReasons(failedList []failedEntry) string {
	if len(failedList) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range failedList {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Task)
		b.WriteString(": ")
		b.WriteString(f.Reason)
		if i >= 4 && len(failedList) > 6 {
			b.WriteString(fmt.Sprintf(" (+%d more)", len(failedList)-5))
			break
		}
	}
	return b.String()
}
