// Package videothumb extracts still frames from videos with ffmpeg.
package videothumb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// ffmpegBinary is used when no explicit path is configured. Tests replace it
// with a script.
var ffmpegBinary = "ffmpeg"

type FrameOptions struct {
	Timestamp time.Duration
	// Size bounds the longer edge of the frame.
	Size int
	// Name is the preferred file name. The extension is always .jpg. When
	// empty the name is derived from the source file.
	Name string
}

type Extractor struct {
	ffmpeg  string
	timeout time.Duration
}

func New(ffmpegPath string, timeout time.Duration) *Extractor {
	return &Extractor{ffmpeg: ffmpegPath, timeout: timeout}
}

func (e *Extractor) bin() string {
	if e.ffmpeg != "" {
		return e.ffmpeg
	}
	return ffmpegBinary
}

// ExtractFrame writes one frame of src into targetDir and returns the file
// name it chose. Videos shorter than the timestamp fall back to the first
// frame. An existing file is never overwritten.
func (e *Extractor) ExtractFrame(ctx context.Context, src, targetDir string, opts FrameOptions) (string, error) {
	log := logger.FromContext(ctx)

	name := frameName(src, opts.Name)
	dst := filepath.Join(targetDir, name)

	if _, err := os.Stat(dst); err == nil {
		return "", errors.Errorf("frame target already exists: %s", dst)
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", errors.WithStack(err)
	}

	err := e.run(ctx, frameArgs(src, dst, opts.Timestamp, opts.Size))
	if err != nil && opts.Timestamp > 0 {
		log.Debug("frame extraction at timestamp failed, retrying first frame", logger.Data{"path": src, "error": err.Error()})
		_ = os.Remove(dst)
		err = e.run(ctx, frameArgs(src, dst, 0, opts.Size))
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", err
	}

	info, statErr := os.Stat(dst)
	if statErr != nil || info.Size() == 0 {
		_ = os.Remove(dst)
		return "", errors.Errorf("ffmpeg produced no output for %s", src)
	}

	return name, nil
}

func (e *Extractor) run(ctx context.Context, args []string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.bin(), args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "ffmpeg timed out")
		}
		return errors.Errorf("ffmpeg failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func frameArgs(src, dst string, timestamp time.Duration, size int) []string {
	args := []string{"-protocol_whitelist", "file,pipe", "-n"}
	if timestamp > 0 {
		args = append(args, "-ss", formatTimestamp(timestamp))
	}
	args = append(args, "-i", src, "-frames:v", "1")
	if size > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease", size, size))
	}
	return append(args, "-q:v", "2", dst)
}

// formatTimestamp renders d as HH:MM:SS.mmm.
func formatTimestamp(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}

func frameName(src, preferred string) string {
	stem := preferred
	if stem == "" {
		base := filepath.Base(src)
		stem = strings.TrimSuffix(base, filepath.Ext(base)) + "-preview"
	}
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	return stem + ".jpg"
}
