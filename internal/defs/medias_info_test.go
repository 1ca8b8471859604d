package defs

import (
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/stretchr/testify/require"
)

func TestMediasInfo(t *testing.T) {
	require.Equal(t, "1 track (VP8)", MediasInfo([]*description.Media{{
		Type:    description.MediaTypeVideo,
		Formats: []format.Format{&format.VP8{PayloadTyp: 96}},
	}}))

	require.Equal(t, "2 tracks (H264, Opus)", MediasInfo([]*description.Media{
		{
			Type:    description.MediaTypeVideo,
			Formats: []format.Format{&format.H264{PayloadTyp: 96, PacketizationMode: 1}},
		},
		{
			Type:    description.MediaTypeAudio,
			Formats: []format.Format{&format.Opus{PayloadTyp: 111, ChannelCount: 2}},
		},
	}))
}
