package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCaps(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		mediaType string
		width     int
		height    int
		wantErr   bool
	}{
		{"plain fields", "video/x-h264,width=640,height=480", MediaTypeH264, 640, 480, false},
		{"typed fields", "video/x-raw, format=(string)GRAY8, width=(int)320, height=(int)240", MediaTypeRaw, 320, 240, false},
		{"no resolution", "video/x-h264,stream-format=byte-stream", MediaTypeH264, 0, 0, true},
		{"zero width", "video/x-raw,width=0,height=10", MediaTypeRaw, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ParseCaps(tt.in)
			assert.Equal(t, tt.mediaType, c.MediaType)
			w, h, err := c.Resolution()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
		})
	}
}

func TestParseCaps_TypedString(t *testing.T) {
	c := ParseCaps("video/x-raw,format=(string)RGB")
	v, ok := c.Get("format")
	require.True(t, ok)
	assert.Equal(t, "RGB", v)
}

func TestH264Caps(t *testing.T) {
	assert.Equal(t, "video/x-h264,stream-format=byte-stream,alignment=au", H264Caps(0, 0))

	c := ParseCaps(H264Caps(1280, 720))
	w, h, err := c.Resolution()
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}

func TestPacket_DecodeTimeDTSFallback(t *testing.T) {
	p := Packet{PTS: 40, DTS: NoTimestamp}
	assert.EqualValues(t, 40, p.DecodeTime())

	p.DTS = 20
	assert.EqualValues(t, 20, p.DecodeTime())
}
