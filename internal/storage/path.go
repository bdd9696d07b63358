package storage

import (
	"fmt"
	"path"
	"regexp"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

var datasetIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// BuildRawObjectKey returns the canonical key for a dataset's raw
// upload. The original filename lives in metadata, not in the key, so
// the layout stays stable no matter what the client named the file.
func BuildRawObjectKey(datasetID, format string) (string, error) {
	if !datasetIDPattern.MatchString(datasetID) {
		return "", fmt.Errorf("invalid dataset id: %q", datasetID)
	}
	switch format {
	case FormatCSV, FormatParquet:
	default:
		return "", fmt.Errorf("invalid dataset format: %q", format)
	}
	return path.Join("datasets", datasetID, "raw", "source."+format), nil
}

func ContentTypeForFormat(format string) string {
	if format == FormatParquet {
		return ContentTypeParquet
	}
	return ContentTypeCSV
}
