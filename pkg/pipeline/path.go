package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/menta2k/catalog-shots/internal/utils"
)

// DateLayout renders the dated top-level folder, e.g. "05 01 2024"
const DateLayout = "02 01 2006"

// DestinationPath builds "DD MM YYYY/folder/NN-base.ext". The order prefix
// appears only when order > 0. An empty folder drops its segment.
func DestinationPath(now time.Time, folderName string, order int, filename, ext string) string {
	base := utils.SanitizeFilename(utils.BaseName(filename))
	if base == "" {
		base = "image"
	}

	prefix := ""
	if order > 0 {
		prefix = fmt.Sprintf("%02d-", order)
	}

	parts := []string{now.Format(DateLayout)}
	if folder := strings.TrimSpace(folderName); folder != "" {
		parts = append(parts, folder)
	}
	parts = append(parts, prefix+base+ext)
	return strings.Join(parts, "/")
}
