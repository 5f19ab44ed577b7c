package importer

import (
	"path"
	"strings"
)

// FileNameFromUpload derives the logical file name from an uploaded file
// name: directories are dropped along with the last extension, so
// "data/run.2024.csv" becomes "run.2024".
func FileNameFromUpload(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	base := path.Base(name)

	if base == "." || base == "/" {
		return ""
	}

	return strings.TrimSuffix(base, path.Ext(base))
}
