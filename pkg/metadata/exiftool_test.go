package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExiftool installs a shell script in place of the exiftool binary.
func fakeExiftool(t *testing.T, script string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exiftool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))

	orig := exiftoolBinary
	exiftoolBinary = path
	t.Cleanup(func() { exiftoolBinary = orig })
}

func testContext() context.Context {
	return logger.New().WithContext(context.Background())
}

func TestWriteArgs(t *testing.T) {
	keywords := []string{"beach", "summer"}
	args, err := writeArgs(Entry{
		Path: "/lib/a.jpg",
		Fields: Fields{
			Keywords:     &keywords,
			Rating:       pointerutil.Int(4),
			Description:  pointerutil.String("sunset"),
			OriginalDate: pointerutil.String("2019-07-04"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "/lib/a.jpg", args[len(args)-1])
	assert.Contains(t, args, "-IPTC:Keywords=")
	assert.Contains(t, args, "-IPTC:Keywords=beach")
	assert.Contains(t, args, "-XMP-dc:Subject=summer")
	assert.Contains(t, args, "-XMP-xmp:Rating=4")
	assert.Contains(t, args, "-XMP-dc:Description=sunset")
	assert.Contains(t, args, "-AllDates=2019:07:04 00:00:00")
}

func TestWriteArgs_UnknownDateClears(t *testing.T) {
	args, err := writeArgs(Entry{Path: "/a.jpg", Fields: Fields{OriginalDate: pointerutil.String(models.DateUnknown)}})
	require.NoError(t, err)
	assert.Contains(t, args, "-AllDates=")
}

func TestWriteArgs_InvalidDate(t *testing.T) {
	_, err := writeArgs(Entry{Path: "/a.jpg", Fields: Fields{OriginalDate: pointerutil.String("someday")}})
	assert.Error(t, err)
}

func TestParseReadOutput(t *testing.T) {
	out := []byte(`[{"SourceFile":"/a.jpg","DateTimeOriginal":"2019:07:04 10:11:12","Subject":["beach","summer"],"Rating":3,"ImageDescription":"sunset"}]`)

	info, err := parseReadOutput(out)
	require.NoError(t, err)
	assert.Equal(t, "2019:07:04 10:11:12", info.OriginalDate)
	assert.Equal(t, []string{"beach", "summer"}, info.Keywords)
	assert.Equal(t, 3, info.Rating)
	assert.Equal(t, "sunset", info.Description)
}

func TestParseReadOutput_NoDate(t *testing.T) {
	info, err := parseReadOutput([]byte(`[{"SourceFile":"/a.jpg","Keywords":"single"}]`))
	require.NoError(t, err)
	assert.Equal(t, models.DateUnknown, info.OriginalDate)
	assert.Equal(t, []string{"single"}, info.Keywords)
}

func TestExiftool_Read(t *testing.T) {
	fakeExiftool(t, `echo '[{"SourceFile":"x","CreateDate":"2020:01:02 03:04:05"}]'`)

	info, err := NewExiftool("", time.Minute).Read(testContext(), "/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "2020:01:02 03:04:05", info.OriginalDate)
}

func TestExiftool_RewriteCollectsFailures(t *testing.T) {
	// Fails for any argument list that ends with bad.jpg.
	fakeExiftool(t, `for last; do :; done
case "$last" in
  *bad.jpg) echo "cannot write" >&2; exit 1 ;;
esac
exit 0`)

	entries := []Entry{
		{Path: "/lib/good.jpg", Fields: Fields{Rating: pointerutil.Int(1)}},
		{Path: "/lib/bad.jpg", Fields: Fields{Rating: pointerutil.Int(2)}},
		{Path: "/lib/untouched.jpg"},
	}

	err := NewExiftool("", time.Minute).Rewrite(testContext(), entries)

	var rewriteErr *MetadataRewriteError
	require.ErrorAs(t, err, &rewriteErr)
	require.Len(t, rewriteErr.Failures, 1)
	assert.Contains(t, rewriteErr.Failures["/lib/bad.jpg"].Error(), "cannot write")
}

func TestExiftool_Timeout(t *testing.T) {
	fakeExiftool(t, "exec sleep 5")

	err := NewExiftool("", 50*time.Millisecond).Rewrite(testContext(), []Entry{
		{Path: "/a.jpg", Fields: Fields{Rating: pointerutil.Int(1)}},
	})

	var rewriteErr *MetadataRewriteError
	require.ErrorAs(t, err, &rewriteErr)
	assert.Contains(t, rewriteErr.Failures["/a.jpg"].Error(), "timed out")
}
