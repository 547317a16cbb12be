package media

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maauso/vidmerge/internal/media/mediatest"
)

func TestNewFFmpeg(t *testing.T) {
	t.Run("default paths", func(t *testing.T) {
		p := NewFFmpeg("", "")
		if p.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", p.ffmpegPath)
		}
		if p.ffprobePath != "ffprobe" {
			t.Errorf("expected default path 'ffprobe', got %q", p.ffprobePath)
		}
	})

	t.Run("custom paths", func(t *testing.T) {
		p := NewFFmpeg("/usr/local/bin/ffmpeg", "/usr/local/bin/ffprobe")
		if p.ffmpegPath != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", p.ffmpegPath)
		}
		if p.ffprobePath != "/usr/local/bin/ffprobe" {
			t.Errorf("expected custom path, got %q", p.ffprobePath)
		}
	})
}

func TestWriteConcatList(t *testing.T) {
	p := NewFFmpeg("", "")

	t.Run("escapes quotes and ends with blank line", func(t *testing.T) {
		var buf bytes.Buffer
		err := p.WriteConcatList(&buf, []string{"/videos/a.mp4", "/videos/it's.mp4"})
		if err != nil {
			t.Fatalf("WriteConcatList failed: %v", err)
		}

		want := "file '/videos/a.mp4'\nfile '/videos/it'\\''s.mp4'\n\n"
		if buf.String() != want {
			t.Errorf("manifest mismatch\nwant: %q\ngot:  %q", want, buf.String())
		}
	})

	t.Run("relative paths become absolute", func(t *testing.T) {
		var buf bytes.Buffer
		if err := p.WriteConcatList(&buf, []string{"clip.mp4"}); err != nil {
			t.Fatalf("WriteConcatList failed: %v", err)
		}
		wd, _ := os.Getwd()
		if !strings.Contains(buf.String(), filepath.Join(wd, "clip.mp4")) {
			t.Errorf("expected absolute path in manifest, got %q", buf.String())
		}
	})

	t.Run("empty list", func(t *testing.T) {
		err := p.WriteConcatList(&bytes.Buffer{}, nil)
		if !errors.Is(err, ErrNoVideoPaths) {
			t.Errorf("expected ErrNoVideoPaths, got %v", err)
		}
	})
}

func TestInputs(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "in")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	var inputs Inputs
	if got := inputs.Arg(PathInput("/a.mp4")); got != "/a.mp4" {
		t.Errorf("expected path argument, got %q", got)
	}
	if got := inputs.Arg(FileInput(f)); got != "/dev/fd/3" {
		t.Errorf("expected /dev/fd/3, got %q", got)
	}
	if got := inputs.Arg(FileInput(f)); got != "/dev/fd/4" {
		t.Errorf("expected /dev/fd/4, got %q", got)
	}
	if len(inputs.Files()) != 2 {
		t.Errorf("expected 2 inherited files, got %d", len(inputs.Files()))
	}
}

func TestConcatCopy(t *testing.T) {
	mediatest.SkipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	p := NewFFmpeg("", "")

	t.Run("joins videos and reports out_time", func(t *testing.T) {
		video1 := filepath.Join(tmpDir, "video1.mp4")
		video2 := filepath.Join(tmpDir, "video2.mp4")
		output := filepath.Join(tmpDir, "joined.mp4")
		mediatest.Video(t, video1, mediatest.Clip{Duration: 0.5, Color: "red"})
		mediatest.Video(t, video2, mediatest.Clip{Duration: 0.5, Color: "blue"})

		manifest := filepath.Join(tmpDir, "list.txt")
		f, err := os.Create(manifest)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.WriteConcatList(f, []string{video1, video2}); err != nil {
			t.Fatal(err)
		}
		_ = f.Close()

		var updates int
		report, err := p.ConcatCopy(context.Background(), manifest, output, func(Progress) { updates++ })
		if err != nil {
			t.Fatalf("ConcatCopy failed: %v", err)
		}
		if !report.Ended {
			t.Error("expected final progress=end block")
		}
		if report.OutTime < 800*time.Millisecond {
			t.Errorf("expected out_time near 1s, got %s", report.OutTime)
		}
		if updates == 0 {
			t.Error("expected at least one progress update")
		}

		info, err := os.Stat(output)
		if err != nil || info.Size() == 0 {
			t.Errorf("output file missing or empty: %v", err)
		}
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, err := p.ConcatCopy(context.Background(), filepath.Join(tmpDir, "none.txt"), filepath.Join(tmpDir, "x.mp4"), nil)
		var ffErr *FFmpegError
		if !errors.As(err, &ffErr) {
			t.Errorf("expected FFmpegError, got %T", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.ConcatCopy(ctx, filepath.Join(tmpDir, "none.txt"), filepath.Join(tmpDir, "x.mp4"), nil)
		if err == nil {
			t.Error("expected error for cancelled context, got nil")
		}
	})
}

func TestExtractFrame(t *testing.T) {
	mediatest.SkipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	p := NewFFmpeg("", "")
	video := filepath.Join(tmpDir, "frame.mp4")
	mediatest.Video(t, video, mediatest.Clip{Duration: 1, Width: 80, Height: 48})

	t.Run("extracts frame through descriptor", func(t *testing.T) {
		f, err := os.Open(video)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = f.Close() }()

		data, err := p.ExtractFrame(context.Background(), FileInput(f), 500*time.Millisecond)
		if err != nil {
			t.Fatalf("ExtractFrame failed: %v", err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("output is not a PNG: %v", err)
		}
		if img.Bounds().Dx() != 80 || img.Bounds().Dy() != 48 {
			t.Errorf("expected 80x48 frame, got %v", img.Bounds())
		}
	})

	t.Run("negative timestamp", func(t *testing.T) {
		_, err := p.ExtractFrame(context.Background(), PathInput(video), -time.Second)
		if !errors.Is(err, ErrNegativeTimestamp) {
			t.Errorf("expected ErrNegativeTimestamp, got %v", err)
		}
	})

	t.Run("non-existent video", func(t *testing.T) {
		_, err := p.ExtractFrame(context.Background(), PathInput(filepath.Join(tmpDir, "none.mp4")), 0)
		if err == nil {
			t.Error("expected error for non-existent video, got nil")
		}
	})
}

func TestProbe(t *testing.T) {
	mediatest.SkipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	p := NewFFmpeg("", "")
	video := filepath.Join(tmpDir, "probe.mp4")
	mediatest.Video(t, video, mediatest.Clip{Duration: 1, Width: 96, Height: 64})

	f, err := os.Open(video)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	result, err := p.Probe(context.Background(), FileInput(f))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	var video0, audio0 *Stream
	for i := range result.Streams {
		switch result.Streams[i].CodecType {
		case "video":
			if video0 == nil {
				video0 = &result.Streams[i]
			}
		case "audio":
			if audio0 == nil {
				audio0 = &result.Streams[i]
			}
		}
	}
	if video0 == nil || audio0 == nil {
		t.Fatalf("expected a video and an audio stream, got %+v", result.Streams)
	}
	if video0.Width != 96 || video0.Height != 64 {
		t.Errorf("expected 96x64, got %dx%d", video0.Width, video0.Height)
	}
	if video0.Timescale() == 0 {
		t.Errorf("expected a time base, got %q", video0.TimeBase)
	}
	if d := result.DurationSeconds(); d < 0.9 || d > 1.2 {
		t.Errorf("expected ~1s duration, got %f", d)
	}
}

func TestFFmpegError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &FFmpegError{Args: []string{"-i", "x"}, Stderr: "No such file", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected FFmpegError to unwrap to inner error")
	}
	if !strings.Contains(err.Error(), "No such file") {
		t.Errorf("expected stderr in message, got %q", err.Error())
	}
}
