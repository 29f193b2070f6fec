package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/Yangjianxun1998/convert/internal/domain"
)

// Sink receives normalized progress events from a running conversion.
type Sink interface {
	Emit(domain.ProgressEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(domain.ProgressEvent)

func (f SinkFunc) Emit(e domain.ProgressEvent) { f(e) }

// Request describes a single conversion.
type Request struct {
	Input   string
	Output  string
	Options domain.ConvertOptions
}

type Config struct {
	Bin       string
	ProbeBin  string
	ExtraArgs string
	// Throttle thresholds; zero disables the corresponding check.
	ThrottleCPU      float64
	ThrottleFreeMem  int64
	ThrottleFreeDisk int64
	Logger           *logrus.Logger
}

// Runner wraps invocations of the ffmpeg binary and translates its progress
// stream into ProgressEvents.
type Runner struct {
	cfg       Config
	extraArgs []string
	logger    *logrus.Logger
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Bin == "" {
		cfg.Bin = "ffmpeg"
	}
	if cfg.ProbeBin == "" {
		cfg.ProbeBin = "ffprobe"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	var extra []string
	if strings.TrimSpace(cfg.ExtraArgs) != "" {
		args, err := shlex.Split(cfg.ExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("invalid extra args syntax: %w", err)
		}
		for _, arg := range args {
			if strings.ContainsAny(arg, "|&;`$()<>") {
				return nil, fmt.Errorf("disallowed character in extra arg: %s", arg)
			}
		}
		extra = args
	}

	return &Runner{
		cfg:       cfg,
		extraArgs: extra,
		logger:    cfg.Logger,
	}, nil
}

// Available probes the configured ffmpeg binary with a version query.
func (r *Runner) Available() (bool, string) {
	out, err := exec.Command(r.cfg.Bin, "-version").CombinedOutput()
	if err != nil || !strings.Contains(string(out), "ffmpeg version") {
		return false, "FFmpeg is not installed or not in PATH"
	}
	return true, "FFmpeg is available"
}

// Convert runs one ffmpeg invocation, emitting progress events to sink as the
// process reports them. Exactly one terminal event (completed or error) is
// emitted unless ctx is cancelled, in which case no further events follow.
// The returned error classifies the failure; nil means completed.
func (r *Runner) Convert(ctx context.Context, req Request, sink Sink) error {
	fail := func(class error, msg string) error {
		sink.Emit(domain.ProgressEvent{Status: domain.EventError, Message: msg})
		return fmt.Errorf("%w: %s", class, msg)
	}

	if req.Input == "" {
		return fail(domain.ErrInvalidInput, "Input file path is required")
	}
	if req.Output == "" {
		return fail(domain.ErrInvalidInput, "Output file path is required")
	}

	if ok, msg := r.Available(); !ok {
		return fail(domain.ErrToolingUnavailable, msg)
	}

	info, err := os.Stat(req.Input)
	if err != nil {
		return fail(domain.ErrInvalidInput, fmt.Sprintf("Input file not found: %s", req.Input))
	}
	if !info.Mode().IsRegular() {
		return fail(domain.ErrInvalidInput, fmt.Sprintf("Input path is not a file: %s", req.Input))
	}

	outDir := filepath.Dir(req.Output)
	if outDir != "" && outDir != "." {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fail(domain.ErrIOFailure, fmt.Sprintf("Failed to create output directory: %v", err))
		}
	}

	if err := r.checkResources(outDir); err != nil {
		return fail(domain.ErrIOFailure, fmt.Sprintf("Insufficient system resources: %v", err))
	}

	duration := r.ProbeDuration(ctx, req.Input)

	opts := req.Options.WithDefaults()
	args := buildArgs(req.Input, req.Output, opts, r.extraArgs)

	cmd := exec.CommandContext(ctx, r.cfg.Bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(domain.ErrProcessFailure, fmt.Sprintf("Failed to attach to ffmpeg output: %v", err))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.WithField("bin", r.cfg.Bin).Debugf("executing: %s", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return fail(domain.ErrProcessFailure, fmt.Sprintf("Failed to start ffmpeg: %v", err))
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "out_time_ms=") {
			continue
		}
		us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_ms="), 10, 64)
		if err != nil {
			continue
		}
		elapsed := float64(us) / 1e6
		progress := 0
		if duration > 0 {
			progress = int(elapsed / duration * 100)
			if progress > 100 {
				progress = 100
			}
			if progress < 0 {
				progress = 0
			}
		}
		sink.Emit(domain.ProgressEvent{
			Status:   domain.EventProgress,
			Progress: progress,
			Time:     elapsed,
			Duration: duration,
		})
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		// The process was terminated on our behalf; drop any partial output
		// and stay silent so a cancelled task never reports completion.
		os.Remove(req.Output)
		return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}

	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		os.Remove(req.Output)
		return fail(domain.ErrProcessFailure, msg)
	}

	sink.Emit(domain.ProgressEvent{
		Status:  domain.EventCompleted,
		Output:  req.Output,
		Message: "Conversion completed successfully",
	})
	return nil
}

func buildArgs(input, output string, opts domain.ConvertOptions, extra []string) []string {
	args := []string{
		"-i", input,
		"-c:v", opts.Codec,
		"-preset", opts.Preset,
		"-crf", strconv.Itoa(opts.CRF),
		"-c:a", opts.AudioCodec,
		"-b:a", opts.AudioBitrate,
	}
	if opts.Resolution != "" {
		args = append(args, "-vf", "scale="+opts.Resolution)
	}
	args = append(args, extra...)
	args = append(args,
		"-y",
		"-progress", "pipe:1",
		"-hide_banner",
		"-loglevel", "error",
		output,
	)
	return args
}

// checkResources verifies the host has enough headroom to start another job.
func (r *Runner) checkResources(dir string) error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			r.logger.Warnf("could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > 100.0-r.cfg.ThrottleCPU {
			return fmt.Errorf("not enough idle CPU, current usage %.2f%%", p[0])
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.logger.Warnf("could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory, available %d bytes", vm.Available)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		if dir == "" {
			dir = "."
		}
		d, err := disk.Usage(dir)
		if err != nil {
			r.logger.Warnf("could not get disk usage for %s: %v", dir, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space, available %d bytes", d.Free)
		}
	}
	return nil
}
