package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/maauso/vidmerge/internal/media"
	"github.com/maauso/vidmerge/internal/mediaref"
)

var _ Runner = (*media.FFmpeg)(nil)

// Runner runs ffmpeg and reports -progress updates.
type Runner interface {
	RunWithProgress(ctx context.Context, args []string, extra []*os.File, onProgress func(media.Progress)) (media.Report, error)
}

// FFmpegSession renders a Composition with an ffmpeg filter graph: every
// segment is scaled and padded to the render size, all segments are joined
// with the concat filter, and the rotation is applied once to the result.
type FFmpegSession struct {
	runner Runner
	opener mediaref.Opener
	logger *slog.Logger
}

// NewFFmpegSession creates an FFmpegSession. A nil opener uses mediaref.FileOpener.
func NewFFmpegSession(runner Runner, opener mediaref.Opener, logger *slog.Logger) *FFmpegSession {
	if opener == nil {
		opener = mediaref.FileOpener{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSession{runner: runner, opener: opener, logger: logger}
}

// Start implements Session.
func (s *FFmpegSession) Start(ctx context.Context, c Composition) *Job {
	job := NewJob()
	go s.run(ctx, c, job)
	return job
}

func (s *FFmpegSession) run(ctx context.Context, c Composition, job *Job) {
	if err := job.Start(); err != nil {
		_ = job.Fail(err)
		return
	}

	if c.RenderWidth <= 0 || c.RenderHeight <= 0 {
		_ = job.Fail(ErrNoRenderSize)
		return
	}

	files := make([]*os.File, 0, len(c.Segments))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	var inputs media.Inputs
	args := make([]string, 0, 8*len(c.Segments)+24)
	args = append(args, "-y")
	for _, seg := range c.Segments {
		f, err := s.opener.Open(ctx, seg.Source)
		if err != nil {
			s.finish(ctx, job, fmt.Errorf("open %s: %w", seg.Source, err))
			return
		}
		files = append(files, f)
		args = append(args, "-noautorotate", "-i", inputs.Arg(media.FileInput(f)))
	}
	args = append(args, OutputArgs(c)...)

	onProgress := func(p media.Progress) {
		if c.Duration > 0 {
			job.UpdateProgress(float64(p.OutTime) / float64(c.Duration))
		}
	}

	_, err := s.runner.RunWithProgress(ctx, args, inputs.Files(), onProgress)
	s.finish(ctx, job, err)
}

func (s *FFmpegSession) finish(ctx context.Context, job *Job, err error) {
	switch {
	case err == nil:
		_ = job.Complete()
	case ctx.Err() != nil:
		_ = job.Cancel(ctx.Err())
	default:
		s.logger.Error("composition render failed", slog.String("error", err.Error()))
		_ = job.Fail(err)
	}
}

// OutputArgs returns the filter graph and encoder arguments for c. Input i
// of the ffmpeg command line must be segment i.
func OutputArgs(c Composition) []string {
	filter, videoOut, audioOut := FilterGraph(c)

	args := []string{
		"-filter_complex", filter,
		"-map", videoOut,
	}
	if c.IncludeAudio {
		args = append(args, "-map", audioOut)
	}
	args = append(args,
		"-c:v", "libx264", // Video codec
		"-preset", "fast", // Encoding speed preset
		"-crf", "23", // Quality (lower = better, 23 is default)
		"-pix_fmt", "yuv420p",
	)
	if c.IncludeAudio {
		args = append(args,
			"-c:a", "aac", // Audio codec
			"-b:a", "128k", // Audio bitrate
		)
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart", c.Output)
	return args
}

// FilterGraph builds the -filter_complex graph for c and returns it with the
// labels of the final video and audio streams.
func FilterGraph(c Composition) (graph, videoOut, audioOut string) {
	w, h := c.RenderWidth, c.RenderHeight
	var b strings.Builder
	var concatIn strings.Builder

	for i := range c.Segments {
		fmt.Fprintf(&b,
			"[%d:v:0]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1,format=yuv420p[v%d];",
			i, w, h, w, h, i)
		fmt.Fprintf(&concatIn, "[v%d]", i)
		if c.IncludeAudio {
			fmt.Fprintf(&b, "[%d:a:0]aresample=44100,aformat=sample_fmts=fltp:channel_layouts=stereo[a%d];", i, i)
			fmt.Fprintf(&concatIn, "[a%d]", i)
		}
	}

	audioFlag := 0
	audioOut = ""
	if c.IncludeAudio {
		audioFlag = 1
		audioOut = "[aout]"
	}

	rotate := rotationFilter(c.Rotation)
	videoOut = "[vout]"
	concatVideo := videoOut
	if rotate != "" {
		concatVideo = "[vcat]"
	}

	fmt.Fprintf(&b, "%sconcat=n=%d:v=1:a=%d%s%s", concatIn.String(), len(c.Segments), audioFlag, concatVideo, audioOut)
	if rotate != "" {
		fmt.Fprintf(&b, ";%s%s%s", concatVideo, rotate, videoOut)
	}
	return b.String(), videoOut, audioOut
}

// rotationFilter returns the video filter for a clockwise rotation in degrees.
func rotationFilter(deg float64) string {
	deg = math.Mod(math.Round(deg), 360)
	if deg < 0 {
		deg += 360
	}
	switch deg {
	case 0:
		return ""
	case 90:
		return "transpose=clock"
	case 180:
		return "hflip,vflip"
	case 270:
		return "transpose=cclock"
	default:
		return fmt.Sprintf("rotate=%g*PI/180:ow=rotw(%g*PI/180):oh=roth(%g*PI/180)", deg, deg, deg)
	}
}
