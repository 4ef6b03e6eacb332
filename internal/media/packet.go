// Package media holds the value types shared by the ingestion, pipeline and
// event packages: encoded packets, decoded images and caps descriptors.
package media

import "time"

// NoTimestamp marks a PTS or DTS that is not known.
const NoTimestamp time.Duration = -1

// Packet is one encoded access unit together with its envelope.
type Packet struct {
	// Data is the access unit in Annex-B byte-stream format.
	Data []byte
	// PTS and DTS are native stream timestamps, NoTimestamp when absent.
	PTS time.Duration
	DTS time.Duration
	// Caps describes the media type of Data, e.g.
	// "video/x-h264,stream-format=byte-stream,alignment=au,width=1280,height=720".
	Caps string
	// KeyFrame is true for a random access point that starts a new GOP.
	KeyFrame bool
}

// DecodeTime returns the DTS, falling back to the PTS when the DTS is unknown.
func (p Packet) DecodeTime() time.Duration {
	if p.DTS != NoTimestamp {
		return p.DTS
	}
	return p.PTS
}

// RawImage is a decoded, packed video frame.
type RawImage struct {
	Width  int
	Height int
	// Format is the GStreamer raw video format name (RGB, GRAY8, ...).
	Format string
	Pix    []byte
	PTS    time.Duration
}

// BytesPerPixel returns the packed pixel size of the image format, or 0 when
// the format is not a packed format this package understands.
func (img RawImage) BytesPerPixel() int {
	switch img.Format {
	case FormatGray8:
		return 1
	case FormatRGB, FormatBGR:
		return 3
	case FormatRGBA, FormatBGRA:
		return 4
	default:
		return 0
	}
}

// Raw video formats used by the adapters.
const (
	FormatGray8 = "GRAY8"
	FormatRGB   = "RGB"
	FormatBGR   = "BGR"
	FormatRGBA  = "RGBA"
	FormatBGRA  = "BGRA"
)

// TicksToDuration converts 90 kHz MPEG timestamps.
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks * 100000 / 9)
}

// DurationToTicks converts to 90 kHz MPEG timestamps, rounding to the
// nearest tick.
func DurationToTicks(d time.Duration) int64 {
	return (int64(d)*9 + 50000) / 100000
}
