package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult represents the parsed output from an ffprobe inspection.
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int               `json:"index"`
	ID           string            `json:"id"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	CodecTag     string            `json:"codec_tag_string"`
	TimeBase     string            `json:"time_base"`
	DurationTS   int64             `json:"duration_ts"`
	Duration     string            `json:"duration"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	SampleRate   string            `json:"sample_rate"`
	Channels     int               `json:"channels"`
	Tags         map[string]string `json:"tags"`
	SideDataList []SideData        `json:"side_data_list"`
}

// SideData is a stream side-data entry. Only the display matrix rotation is decoded.
type SideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Probe executes ffprobe against in and decodes the JSON response.
func (p *FFmpeg) Probe(ctx context.Context, in Input) (*ProbeResult, error) {
	var inputs Inputs
	args := []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "-i", inputs.Arg(in)}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	cmd.ExtraFiles = inputs.Files()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	var result ProbeResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}
	return &result, nil
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r *ProbeResult) DurationSeconds() float64 {
	d := parseFloat(r.Format.Duration)
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

// Timescale returns the denominator of the stream time base (e.g. 90000 for 1/90000).
func (s Stream) Timescale() uint32 {
	num, den, ok := strings.Cut(s.TimeBase, "/")
	if !ok || strings.TrimSpace(num) != "1" {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(den), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

// DurationSeconds returns the stream duration in seconds, or 0 when unavailable.
func (s Stream) DurationSeconds() float64 {
	d := parseFloat(s.Duration)
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

// Rotation returns the display rotation in degrees as reported by ffprobe,
// read from the display matrix side data or the legacy "rotate" tag.
func (s Stream) Rotation() float64 {
	for _, sd := range s.SideDataList {
		if strings.EqualFold(sd.SideDataType, "Display Matrix") {
			return sd.Rotation
		}
	}
	if v, ok := s.Tags["rotate"]; ok {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			// The tag is clockwise; side data is counter-clockwise.
			return -r
		}
	}
	return 0
}

// Language returns the stream language tag, or "" when absent.
func (s Stream) Language() string {
	return s.Tags["language"]
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
