// Package imageproc resizes images into previews and full-size JPEGs.
// Formats the Go decoders can't read (HEIC in particular) are decoded through
// ffmpeg.
package imageproc

import (
	"bytes"
	"context"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	_ "golang.org/x/image/webp"
)

// ffmpegBinary is used when no explicit path is configured.
var ffmpegBinary = "ffmpeg"

// Dimensions bound the output. A zero value on both axes keeps the source
// size.
type Dimensions struct {
	MaxWidth  int
	MaxHeight int
}

func (d Dimensions) Unconstrained() bool {
	return d.MaxWidth <= 0 && d.MaxHeight <= 0
}

type Processor struct {
	ffmpeg  string
	timeout time.Duration
}

func New(ffmpegPath string, timeout time.Duration) *Processor {
	return &Processor{ffmpeg: ffmpegPath, timeout: timeout}
}

func (p *Processor) ffmpegBin() string {
	if p.ffmpeg != "" {
		return p.ffmpeg
	}
	return ffmpegBinary
}

// Resize decodes src, fits it inside dims and writes it to dst. The output
// format follows dst's extension. Unknown extensions are written as JPEG;
// the path scheme never hands out one. dst is written through a temporary
// file so a failed resize never leaves a partial artifact.
func (p *Processor) Resize(ctx context.Context, src, dst string, dims Dimensions, quality int) error {
	log := logger.FromContext(ctx)

	img, err := p.decode(ctx, src)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}

	if !dims.Unconstrained() {
		w, h := dims.MaxWidth, dims.MaxHeight
		b := img.Bounds()
		if w <= 0 {
			w = b.Dx()
		}
		if h <= 0 {
			h = b.Dy()
		}
		img = imaging.Fit(img, w, h, imaging.Lanczos)
	}

	format, err := imaging.FormatFromFilename(dst)
	if err != nil {
		format = imaging.JPEG
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithStack(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".resize-*")
	if err != nil {
		return errors.WithStack(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := imaging.Encode(tmp, img, format, imaging.JPEGQuality(quality)); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encoding %s", dst)
	}
	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return errors.WithStack(err)
	}

	log.Debug("resized image", logger.Data{"src": src, "dst": dst, "width": img.Bounds().Dx(), "height": img.Bounds().Dy()})
	return nil
}

func (p *Processor) decode(ctx context.Context, src string) (image.Image, error) {
	log := logger.FromContext(ctx)

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	if os.IsNotExist(errors.Cause(err)) {
		return nil, errors.WithStack(err)
	}

	log.Debug("imaging.Open failed, trying ffmpeg", logger.Data{"path": src, "error": err.Error()})

	img, ffErr := p.decodeWithFFmpeg(ctx, src)
	if ffErr != nil {
		return nil, errors.Wrapf(ffErr, "all image decode methods failed for %s (imaging: %v)", src, err)
	}
	return img, nil
}

func (p *Processor) decodeWithFFmpeg(ctx context.Context, src string) (image.Image, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.ffmpegBin(),
		"-protocol_whitelist", "file,pipe",
		"-i", src,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-pix_fmt", "rgb24",
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "ffmpeg timed out")
		}
		return nil, errors.Errorf("ffmpeg failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.Errorf("ffmpeg produced no output for %s", src)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode ffmpeg output")
	}
	return img, nil
}
