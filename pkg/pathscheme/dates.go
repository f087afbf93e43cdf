package pathscheme

import (
	"strings"
	"time"

	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/pkg/errors"
)

// DateFormat is used for both halves of a date folder name.
const DateFormat = "2006.01.02"

// Layouts accepted for a record's originalDate. EXIF stores dates with colons.
var originalDateLayouts = []string{
	"2006:01:02 15:04:05",
	"2006:01:02 15:04:05-07:00",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	DateFormat,
}

// DateFolderName returns "<changeDate> - changeDate" when the original date is
// unknown and "<originalDate> - originalDate" otherwise. changeDate is in
// milliseconds since the epoch and is formatted in UTC.
func DateFolderName(originalDate string, changeDate int64) (string, error) {
	originalDate = strings.TrimSpace(originalDate)
	if originalDate == "" || originalDate == models.DateUnknown {
		return FormatChangeDate(changeDate) + " - changeDate", nil
	}
	t, err := ParseOriginalDate(originalDate)
	if err != nil {
		return "", err
	}
	return t.Format(DateFormat) + " - originalDate", nil
}

func FormatChangeDate(changeDate int64) string {
	return time.UnixMilli(changeDate).UTC().Format(DateFormat)
}

func ParseOriginalDate(value string) (time.Time, error) {
	for _, layout := range originalDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized original date %q", value)
}
