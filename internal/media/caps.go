package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known media types.
const (
	MediaTypeH264 = "video/x-h264"
	MediaTypeRaw  = "video/x-raw"
	MediaTypeJPEG = "image/jpeg"
)

// Caps is a parsed GStreamer-style capability string: a media type followed by
// comma separated key=value fields. Typed values such as "(int)640" are accepted.
type Caps struct {
	MediaType string
	Fields    map[string]string
}

// ParseCaps parses a caps string. It never fails; unknown syntax ends up as
// opaque field values.
func ParseCaps(s string) Caps {
	parts := strings.Split(s, ",")
	c := Caps{
		MediaType: strings.TrimSpace(parts[0]),
		Fields:    make(map[string]string, len(parts)-1),
	}
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, "(") {
			if end := strings.Index(value, ")"); end > 0 {
				value = value[end+1:]
			}
		}
		c.Fields[strings.TrimSpace(key)] = strings.Trim(value, `"`)
	}
	return c
}

// Get returns the raw value of a field.
func (c Caps) Get(key string) (string, bool) {
	v, ok := c.Fields[key]
	return v, ok
}

// Int returns a field parsed as an integer.
func (c Caps) Int(key string) (int, bool) {
	v, ok := c.Fields[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Resolution returns the width and height fields.
func (c Caps) Resolution() (width, height int, err error) {
	w, okW := c.Int("width")
	h, okH := c.Int("height")
	if !okW || !okH || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("caps %q carry no valid resolution", c.MediaType)
	}
	return w, h, nil
}

// H264Caps builds the caps of an Annex-B, access-unit aligned H.264 stream.
func H264Caps(width, height int) string {
	if width <= 0 || height <= 0 {
		return MediaTypeH264 + ",stream-format=byte-stream,alignment=au"
	}
	return fmt.Sprintf("%s,stream-format=byte-stream,alignment=au,width=%d,height=%d",
		MediaTypeH264, width, height)
}

// RawCaps builds the caps of a packed raw video frame of the given format.
func RawCaps(format string, width, height int) string {
	return fmt.Sprintf("%s,format=%s,width=%d,height=%d,framerate=0/1",
		MediaTypeRaw, format, width, height)
}
