package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Yangjianxun1998/convert/internal/domain"
	"github.com/Yangjianxun1998/convert/internal/ffmpeg"
)

type rootOptions struct {
	ffmpegBin    string
	ffprobeBin   string
	extraArgs    string
	codec        string
	preset       string
	crf          int
	audioCodec   string
	audioBitrate string
	resolution   string
	checkFFmpeg  bool
	verbose      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "convert <input> [output]",
		Short: "Convert a video file to mp4 with ffmpeg",
		Long: `Convert runs a single ffmpeg conversion and prints progress to the
terminal. The output path defaults to the input name with an .mp4 extension.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ffmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary to use")
	flags.StringVar(&opts.ffprobeBin, "ffprobe", "ffprobe", "ffprobe binary to use")
	flags.StringVar(&opts.extraArgs, "extra-args", "", "extra arguments appended to the ffmpeg command line")
	flags.StringVar(&opts.codec, "codec", "libx264", "video codec")
	flags.StringVar(&opts.preset, "preset", "medium", "encoder preset")
	flags.IntVar(&opts.crf, "crf", 23, "constant rate factor")
	flags.StringVar(&opts.audioCodec, "audio-codec", "aac", "audio codec")
	flags.StringVar(&opts.audioBitrate, "audio-bitrate", "128k", "audio bitrate")
	flags.StringVar(&opts.resolution, "resolution", "", "target resolution, e.g. 1280x720")
	flags.BoolVar(&opts.checkFFmpeg, "check-ffmpeg", false, "check whether ffmpeg is usable and exit")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")

	return cmd
}

func run(cmd *cobra.Command, args []string, opts *rootOptions) error {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	runner, err := ffmpeg.NewRunner(ffmpeg.Config{
		Bin:       opts.ffmpegBin,
		ProbeBin:  opts.ffprobeBin,
		ExtraArgs: opts.extraArgs,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if opts.checkFFmpeg {
		available, msg := runner.Available()
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		if !available {
			return errors.New("ffmpeg check failed")
		}
		return nil
	}

	if len(args) == 0 {
		return errors.New("input file is required")
	}
	input := args[0]
	output := defaultOutputPath(input)
	if len(args) > 1 {
		output = args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := ffmpeg.Request{
		Input:  input,
		Output: output,
		Options: domain.ConvertOptions{
			Codec:        opts.codec,
			Preset:       opts.preset,
			CRF:          opts.crf,
			AudioCodec:   opts.audioCodec,
			AudioBitrate: opts.audioBitrate,
			Resolution:   opts.resolution,
		},
	}

	out := cmd.OutOrStdout()
	sink := ffmpeg.SinkFunc(func(ev domain.ProgressEvent) {
		switch ev.Status {
		case domain.EventProgress:
			fmt.Fprintf(out, "\rProgress: %3d%% (%.1fs / %.1fs)", ev.Progress, ev.Time, ev.Duration)
		case domain.EventCompleted:
			fmt.Fprintf(out, "\n%s: %s\n", ev.Message, ev.Output)
		case domain.EventError:
			fmt.Fprintln(out)
		}
	})

	if err := runner.Convert(ctx, req, sink); err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return context.Canceled
		}
		return err
	}
	return nil
}

// defaultOutputPath swaps the input's extension for .mp4, keeping the file
// next to its source.
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(input, ext)
	if stem == "" {
		stem = input
	}
	return stem + ".mp4"
}
