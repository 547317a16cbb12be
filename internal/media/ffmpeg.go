package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Static errors for media operations.
var (
	// ErrNoVideoPaths is returned when no video paths are provided for a concat manifest.
	ErrNoVideoPaths = errors.New("no video paths provided")
	// ErrNegativeTimestamp is returned when a frame is requested before the start of the media.
	ErrNegativeTimestamp = errors.New("timestamp must not be negative")
	// ErrNoFrame is returned when ffmpeg produced no image for the requested timestamp.
	ErrNoFrame = errors.New("no frame decoded at timestamp")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// FFmpeg implements Processor using the ffmpeg and ffprobe CLIs.
type FFmpeg struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// WriteConcatList writes a concat demuxer manifest listing paths in order.
// Each entry is an absolute path on its own "file '...'" line with single
// quotes escaped; the manifest ends with a blank line.
func (p *FFmpeg) WriteConcatList(w io.Writer, paths []string) error {
	if len(paths) == 0 {
		return ErrNoVideoPaths
	}

	bw := bufio.NewWriter(w)
	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(bw, "file '%s'\n", escapedPath); err != nil {
			return fmt.Errorf("write to concat list: %w", err)
		}
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return fmt.Errorf("write to concat list: %w", err)
	}
	return bw.Flush()
}

// ConcatCopy concatenates the files listed in manifest using stream copy.
func (p *FFmpeg) ConcatCopy(ctx context.Context, manifest, output string, onProgress func(Progress)) (Report, error) {
	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", manifest, // Input file list
		"-c", "copy", // Copy streams without re-encoding
		output,
	}
	return p.RunWithProgress(ctx, args, nil, onProgress)
}

// ExtractFrame decodes the frame at the closest sync point at or before at.
func (p *FFmpeg) ExtractFrame(ctx context.Context, in Input, at time.Duration) ([]byte, error) {
	if at < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeTimestamp, at)
	}

	var inputs Inputs
	args := []string{
		"-v", "error",
		"-ss", formatSeconds(at), // Input seek lands on a keyframe
		"-noaccurate_seek",
		"-i", inputs.Arg(in),
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	cmd.ExtraFiles = inputs.Files()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return nil, &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFrame, at)
	}
	return stdout.Bytes(), nil
}

// Run executes ffmpeg with args and returns an error containing stderr
// output if the command fails.
func (p *FFmpeg) Run(ctx context.Context, args []string, extra []*os.File) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	cmd.ExtraFiles = extra

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// RunWithProgress executes ffmpeg with "-progress pipe:1" prepended to args and
// calls onProgress for every progress block ffmpeg emits. The returned Report
// holds the last reported output time.
func (p *FFmpeg) RunWithProgress(ctx context.Context, args []string, extra []*os.File, onProgress func(Progress)) (Report, error) {
	full := append([]string{"-nostats", "-progress", "pipe:1"}, args...)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, full...)
	cmd.ExtraFiles = extra

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Report{}, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Report{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	report := ReadProgress(stdout, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return report, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return report, &FFmpegError{Args: full, Stderr: stderr.String(), Err: err}
	}
	return report, nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
