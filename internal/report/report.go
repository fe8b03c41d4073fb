// Package report renders calibration results and failures for terminal output.
package report

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"

	"camera-calib/internal/calib"
	"camera-calib/internal/camera"
)

// Views renders one row per accepted view: its input position and
// reprojection error, with the worst view marked.
func Views(r *calib.Result) (string, error) {
	summary, err := r.Errors.Summary()
	if err != nil {
		return "", err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Image", "Error (px)", ""})
	for i, e := range r.Errors.PerView {
		image := "-"
		if i < len(r.Acquisition.Accepted) {
			image = fmt.Sprintf("%d", r.Acquisition.Accepted[i])
		}
		mark := ""
		if i == summary.Worst {
			mark = "worst"
		}
		t.AppendRow(table.Row{i, image, fmt.Sprintf("%.4f", e), mark})
	}
	t.AppendFooter(table.Row{"", "RMS", fmt.Sprintf("%.4f", r.Errors.RMS), ""})
	return t.Render(), nil
}

// Model renders the intrinsic parameters.
func Model(m *camera.Model) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Parameter", "Value"})
	t.AppendRow(table.Row{"fx", fmt.Sprintf("%.4f", m.Fx())})
	t.AppendRow(table.Row{"fy", fmt.Sprintf("%.4f", m.Fy())})
	t.AppendRow(table.Row{"cx", fmt.Sprintf("%.4f", m.Cx())})
	t.AppendRow(table.Row{"cy", fmt.Sprintf("%.4f", m.Cy())})
	names := []string{"k1", "k2", "p1", "p2", "k3", "k4", "k5", "k6"}
	for i, d := range m.Distortion {
		if i >= len(names) {
			break
		}
		t.AppendRow(table.Row{names[i], fmt.Sprintf("%.6f", d)})
	}
	if !m.ValidRegion.Empty() {
		t.AppendRow(table.Row{"valid region", m.ValidRegion.String()})
	}
	return t.Render()
}

// Summary is the one-paragraph outcome printed after a run.
func Summary(r *calib.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d images used", r.Views(), r.Acquisition.Total)
	if n := len(r.Acquisition.Rejected); n > 0 {
		fmt.Fprintf(&b, " (%d rejected: %v)", n, r.Acquisition.Rejected)
	}
	fmt.Fprintf(&b, ", rms %.4f px, solver rms %.4f px", r.Errors.RMS, r.SolverRMS)
	return b.String()
}

// Diagnose turns an error into the single line shown to the user, naming
// the stage that failed when it is known.
func Diagnose(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", "; ")
	var se *calib.StageError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s failed: %v", se.Stage, strings.ReplaceAll(se.Err.Error(), "\n", "; "))
	}
	return "error: " + msg
}
