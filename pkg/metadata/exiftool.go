package metadata

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/photoshelf/photoshelf/pkg/pathscheme"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

// exiftoolBinary is used when no explicit path is configured. Tests replace it
// with a script.
var exiftoolBinary = "exiftool"

const exifDateLayout = "2006:01:02 15:04:05"

type Exiftool struct {
	binary  string
	timeout time.Duration
}

func NewExiftool(binary string, timeout time.Duration) *Exiftool {
	return &Exiftool{binary: binary, timeout: timeout}
}

func (e *Exiftool) bin() string {
	if e.binary != "" {
		return e.binary
	}
	return exiftoolBinary
}

// Rewrite writes the fields of every entry into its file. Every entry is
// attempted; failures are collected into a *MetadataRewriteError.
func (e *Exiftool) Rewrite(ctx context.Context, entries []Entry) error {
	log := logger.FromContext(ctx)
	failures := map[string]error{}

	for _, entry := range entries {
		if entry.Fields.IsEmpty() {
			continue
		}
		args, err := writeArgs(entry)
		if err != nil {
			failures[entry.Path] = err
			continue
		}
		if _, err := e.run(ctx, args); err != nil {
			failures[entry.Path] = err
			continue
		}
		log.Debug("rewrote metadata", logger.Data{"path": entry.Path})
	}

	if len(failures) > 0 {
		return &MetadataRewriteError{Failures: failures}
	}
	return nil
}

func (e *Exiftool) Read(ctx context.Context, path string) (*Info, error) {
	out, err := e.run(ctx, readArgs(path))
	if err != nil {
		return nil, err
	}
	return parseReadOutput(out)
}

func (e *Exiftool) run(ctx context.Context, args []string) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.bin(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "exiftool timed out")
		}
		return nil, errors.Errorf("exiftool failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// writeArgs builds the exiftool invocation for one entry. Keywords are
// written to both IPTC and XMP so every reader picks them up.
func writeArgs(entry Entry) ([]string, error) {
	args := []string{"-overwrite_original", "-P", "-m", "-charset", "iptc=UTF8"}

	f := entry.Fields
	if f.Keywords != nil {
		args = append(args, "-IPTC:Keywords=", "-XMP-dc:Subject=")
		for _, kw := range *f.Keywords {
			args = append(args, "-IPTC:Keywords="+kw, "-XMP-dc:Subject="+kw)
		}
	}
	if f.Rating != nil {
		args = append(args, "-XMP-xmp:Rating="+strconv.Itoa(*f.Rating))
	}
	if f.Description != nil {
		args = append(args, "-XMP-dc:Description="+*f.Description, "-EXIF:ImageDescription="+*f.Description)
	}
	if f.OriginalDate != nil {
		value := strings.TrimSpace(*f.OriginalDate)
		if value == "" || value == models.DateUnknown {
			args = append(args, "-AllDates=")
		} else {
			t, err := pathscheme.ParseOriginalDate(value)
			if err != nil {
				return nil, err
			}
			args = append(args, "-AllDates="+t.Format(exifDateLayout))
		}
	}

	return append(args, entry.Path), nil
}

func readArgs(path string) []string {
	return []string{
		"-json", "-n",
		"-DateTimeOriginal", "-CreateDate",
		"-Keywords", "-Subject",
		"-Rating",
		"-Description", "-ImageDescription",
		path,
	}
}

func parseReadOutput(out []byte) (*Info, error) {
	var docs []map[string]interface{}
	if err := json.Unmarshal(out, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding exiftool output")
	}
	if len(docs) == 0 {
		return nil, errors.New("exiftool returned no results")
	}
	doc := docs[0]

	info := &Info{OriginalDate: models.DateUnknown}

	for _, key := range []string{"DateTimeOriginal", "CreateDate"} {
		if s := stringValue(doc[key]); s != "" && !strings.HasPrefix(s, "0000") {
			info.OriginalDate = s
			break
		}
	}

	info.Keywords = stringList(doc["Keywords"])
	if len(info.Keywords) == 0 {
		info.Keywords = stringList(doc["Subject"])
	}

	if r, ok := doc["Rating"].(float64); ok {
		info.Rating = int(r)
	}

	info.Description = stringValue(doc["Description"])
	if info.Description == "" {
		info.Description = stringValue(doc["ImageDescription"])
	}

	return info, nil
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func stringList(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		list := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringValue(item); s != "" {
				list = append(list, s)
			}
		}
		return list
	case nil:
		return nil
	default:
		if s := stringValue(val); s != "" {
			return []string{s}
		}
		return nil
	}
}
