package defs

import (
	"fmt"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
)

// FormatsInfo returns a description of formats.
func FormatsInfo(formats []string) string {
	return fmt.Sprintf("%d %s (%s)",
		len(formats),
		func() string {
			if len(formats) == 1 {
				return "track"
			}
			return "tracks"
		}(),
		strings.Join(formats, ", "))
}

// MediasInfo returns a description of medias.
func MediasInfo(medias []*description.Media) string {
	var formats []string
	for _, media := range medias {
		for _, forma := range media.Formats {
			formats = append(formats, forma.Codec())
		}
	}
	return FormatsInfo(formats)
}
