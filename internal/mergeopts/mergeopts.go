// Package mergeopts resolves loosely-typed caller options into immutable
// merge options with defaults applied.
package mergeopts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
)

// Defaults applied by Resolve.
const (
	DefaultFileName  = "merged_video"
	DefaultActionKey = "video_merge"
	OutputExtension  = ".mp4"
)

var (
	// ErrConflictingAudio is returned when includeAudio and ignoreSound disagree.
	ErrConflictingAudio = errors.New("includeAudio and ignoreSound conflict")
	// ErrRemoteDirectory is returned when writeDirectory is a non-file URI.
	ErrRemoteDirectory = errors.New("writeDirectory must be a local path or file uri")
)

var validate = validator.New()

// Partial is the caller-supplied subset of options. Nil fields fall back to defaults.
type Partial struct {
	WriteDirectory *string `json:"writeDirectory,omitempty"`
	FileName       *string `json:"fileName,omitempty"`
	IncludeAudio   *bool   `json:"includeAudio,omitempty"`
	// IgnoreSound is the legacy inverse of IncludeAudio.
	IgnoreSound *bool   `json:"ignoreSound,omitempty"`
	ActionKey   *string `json:"actionKey,omitempty"`
}

// ParsePartial decodes a loosely-typed payload. Unknown keys are ignored; a
// known key with a value of the wrong type fails with KindInvalidOptions.
func ParsePartial(raw map[string]any) (Partial, error) {
	var p Partial
	if len(raw) == 0 {
		return p, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Partial{}, mergeerr.InvalidOptions(fmt.Errorf("encode options: %w", err))
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Partial{}, mergeerr.InvalidOptions(fmt.Errorf("decode options: %w", err))
	}
	return p, nil
}

// Options are the resolved merge options. Construct them with Resolve.
type Options struct {
	OutputDirectory string `validate:"required"`
	FileName        string `validate:"required,excludesall=/\\,ne=.,ne=.."`
	IncludeAudio    bool
	ActionKey       string `validate:"required"`
}

// Resolve applies defaults to p. An empty defaultDir falls back to a
// directory under os.TempDir(). Resolve performs no filesystem writes.
func Resolve(p Partial, defaultDir string) (Options, error) {
	opts := Options{
		OutputDirectory: defaultDir,
		FileName:        DefaultFileName,
		IncludeAudio:    true,
		ActionKey:       DefaultActionKey,
	}
	if opts.OutputDirectory == "" {
		opts.OutputDirectory = filepath.Join(os.TempDir(), "vidmerge")
	}

	if p.WriteDirectory != nil && *p.WriteDirectory != "" {
		dir, err := ResolveDirectory(*p.WriteDirectory)
		if err != nil {
			return Options{}, err
		}
		opts.OutputDirectory = dir
	}

	if p.FileName != nil {
		opts.FileName = *p.FileName
	}

	switch {
	case p.IncludeAudio != nil && p.IgnoreSound != nil:
		if *p.IncludeAudio == *p.IgnoreSound {
			return Options{}, mergeerr.InvalidOptions(ErrConflictingAudio)
		}
		opts.IncludeAudio = *p.IncludeAudio
	case p.IncludeAudio != nil:
		opts.IncludeAudio = *p.IncludeAudio
	case p.IgnoreSound != nil:
		opts.IncludeAudio = !*p.IgnoreSound
	}

	if p.ActionKey != nil && *p.ActionKey != "" {
		opts.ActionKey = *p.ActionKey
	}

	if err := validate.Struct(opts); err != nil {
		return Options{}, mergeerr.InvalidOptions(err)
	}
	return opts, nil
}

// ResolveDirectory turns a path or file:// URI into an absolute directory.
// Remote URIs fail with KindInvalidOptions.
func ResolveDirectory(dir string) (string, error) {
	if strings.Contains(dir, "://") {
		ref, err := mediaref.Sanitize(dir)
		if err != nil {
			return "", mergeerr.InvalidOptions(err)
		}
		if !ref.IsFile() {
			return "", mergeerr.InvalidOptions(fmt.Errorf("%w: %s", ErrRemoteDirectory, dir))
		}
		return ref.Path(), nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", mergeerr.InvalidOptions(fmt.Errorf("resolve directory: %w", err))
	}
	return abs, nil
}

// OutputPath returns {OutputDirectory}/{FileName}.mp4.
func (o Options) OutputPath() string {
	return filepath.Join(o.OutputDirectory, o.FileName+OutputExtension)
}

// EnsureOutputDir creates the output directory if it does not exist.
func (o Options) EnsureOutputDir() error {
	if err := os.MkdirAll(o.OutputDirectory, 0750); err != nil {
		return mergeerr.InvalidOptions(fmt.Errorf("create output directory: %w", err))
	}
	return nil
}
