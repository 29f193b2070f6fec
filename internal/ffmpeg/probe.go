package ffmpeg

import (
	"context"
	"encoding/json"
	"os/exec"
)

// ProbeDuration queries the total media duration of input in seconds using
// ffprobe. Best-effort: any failure yields 0, which disables percentage
// computation downstream.
func (r *Runner) ProbeDuration(ctx context.Context, input string) float64 {
	cmd := exec.CommandContext(ctx, r.cfg.ProbeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}

	var parsed struct {
		Format struct {
			Duration json.Number `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0
	}

	d, err := parsed.Format.Duration.Float64()
	if err != nil || d < 0 {
		return 0
	}
	return d
}
