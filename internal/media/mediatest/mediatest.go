// Package mediatest builds small ffmpeg-generated fixtures for tests.
package mediatest

import (
	"fmt"
	"os/exec"
	"testing"
)

// SkipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func SkipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// Clip describes a generated test video.
type Clip struct {
	Duration float64
	Color    string
	Width    int
	Height   int
	// Silent omits the audio track.
	Silent bool
	// Rotate sets the display rotation (degrees) in the container metadata.
	Rotate int
}

func (c Clip) withDefaults() Clip {
	if c.Duration <= 0 {
		c.Duration = 0.5
	}
	if c.Color == "" {
		c.Color = "red"
	}
	if c.Width <= 0 {
		c.Width = 64
	}
	if c.Height <= 0 {
		c.Height = 64
	}
	return c
}

// Video creates an H.264/AAC MP4 at path from lavfi sources.
func Video(t *testing.T, path string, c Clip) {
	t.Helper()
	c = c.withDefaults()

	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:d=%.2f:r=25", c.Color, c.Width, c.Height, c.Duration),
	}
	if !c.Silent {
		args = append(args,
			"-f", "lavfi",
			"-i", fmt.Sprintf("anullsrc=r=44100:cl=mono:d=%.2f", c.Duration),
		)
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-g", "5",
	)
	if !c.Silent {
		args = append(args, "-c:a", "aac", "-shortest")
	}
	if c.Rotate != 0 {
		args = append(args, "-metadata:s:v:0", fmt.Sprintf("rotate=%d", c.Rotate))
	}
	args = append(args, path)

	cmd := exec.Command("ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}
