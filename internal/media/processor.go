// Package media wraps the ffmpeg and ffprobe command-line tools used to inspect,
// concatenate, transcode and sample video files.
package media

import (
	"os"
	"strconv"
)

// Input is a media source handed to ffmpeg either by path or by an already
// open descriptor. When File is set it takes precedence and is passed to the
// child process as an inherited descriptor.
type Input struct {
	Path string
	File *os.File
}

// PathInput returns an Input for a filesystem path.
func PathInput(path string) Input {
	return Input{Path: path}
}

// FileInput returns an Input for an open descriptor.
func FileInput(f *os.File) Input {
	return Input{File: f}
}

// Inputs resolves a set of Inputs into command-line arguments and the
// descriptors the child process must inherit. Descriptor i is visible to
// the child as /dev/fd/(3+i).
type Inputs struct {
	extra []*os.File
}

// Arg returns the argument ffmpeg should read in from.
func (s *Inputs) Arg(in Input) string {
	if in.File == nil {
		return in.Path
	}
	s.extra = append(s.extra, in.File)
	return "/dev/fd/" + strconv.Itoa(2+len(s.extra))
}

// Files returns the descriptors to pass as exec.Cmd.ExtraFiles.
func (s *Inputs) Files() []*os.File {
	return s.extra
}
