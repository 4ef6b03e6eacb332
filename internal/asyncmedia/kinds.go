package asyncmedia

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/vidgate/internal/media"
	"github.com/jmylchreest/vidgate/internal/motion"
	"github.com/jmylchreest/vidgate/internal/pipeline"
)

// Pipeline descriptions of the adapter kinds.
const (
	DecoderDescription       = "decodebin ! videoconvert ! video/x-raw,format=RGB"
	JpegEncoderDescription   = "videoconvert ! jpegenc"
	MotionDecoderDescription = "h264parse ! avdec_h264 ! videoconvert ! video/x-raw,format=GRAY8"
)

// ImageDecoder decodes encoded frames into RGB images.
type ImageDecoder[A any] = Adapter[A, media.RawImage]

// BufferDecoder decodes encoded frames and delivers the raw samples.
type BufferDecoder[A any] = Adapter[A, pipeline.Sample]

// JpegEncoder encodes raw images to JPEG.
type JpegEncoder[A any] = Adapter[A, []byte]

// MotionDecoder decodes H.264 and delivers per-block motion vectors.
type MotionDecoder[A any] = Adapter[A, []motion.Vector]

func build(opts []Option) settings {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewImageDecoder creates a decoder whose outputs are converted to images.
func NewImageDecoder[A any](cb Callback[media.RawImage, A], opts ...Option) (*ImageDecoder[A], error) {
	return newAdapter("decoder", DecoderDescription, RawImageFromSample, cb, build(opts))
}

// NewBufferDecoder creates a decoder whose outputs are passed through unconverted.
func NewBufferDecoder[A any](cb Callback[pipeline.Sample, A], opts ...Option) (*BufferDecoder[A], error) {
	identity := func(s pipeline.Sample) (pipeline.Sample, error) { return s, nil }
	return newAdapter("decoder", DecoderDescription, identity, cb, build(opts))
}

// NewJpegEncoder creates a JPEG encoder. Inputs are built with ImageSample.
// Output rate limiting does not apply to encoders.
func NewJpegEncoder[A any](cb Callback[[]byte, A], opts ...Option) (*JpegEncoder[A], error) {
	cfg := build(opts)
	cfg.outputPeriod = 0
	return newAdapter("jpeg_encoder", JpegEncoderDescription, jpegFromSample, cb, cfg)
}

// NewMotionDecoder creates a motion decoder. Without WithVectorExtractor the
// vectors come from a block-matching motion.Estimator.
func NewMotionDecoder[A any](cb Callback[[]motion.Vector, A], opts ...Option) (*MotionDecoder[A], error) {
	cfg := build(opts)
	cfg.outputPeriod = 0
	extractor := cfg.extractor
	if extractor == nil {
		extractor = motion.NewEstimator()
	}
	convert := func(s pipeline.Sample) ([]motion.Vector, error) {
		img, err := RawImageFromSample(s)
		if err != nil {
			return nil, err
		}
		return extractor.Extract(img)
	}
	return newAdapter("motion_decoder", MotionDecoderDescription, convert, cb, cfg)
}

// RawImageFromSample interprets a raw video sample using its caps.
func RawImageFromSample(s pipeline.Sample) (media.RawImage, error) {
	caps := media.ParseCaps(s.Caps)
	if caps.MediaType != media.MediaTypeRaw {
		return media.RawImage{}, fmt.Errorf("sample is %q, not raw video", caps.MediaType)
	}
	w, h, err := caps.Resolution()
	if err != nil {
		return media.RawImage{}, err
	}
	format, _ := caps.Get("format")
	img := media.RawImage{Width: w, Height: h, Format: format, Pix: s.Data, PTS: s.PTS}
	bpp := img.BytesPerPixel()
	if bpp == 0 {
		return media.RawImage{}, fmt.Errorf("unsupported raw format %q", format)
	}
	if need := w * h * bpp; len(s.Data) < need {
		return media.RawImage{}, fmt.Errorf("raw %s frame %dx%d needs %d bytes, got %d", format, w, h, need, len(s.Data))
	}
	return img, nil
}

// ImageSample wraps a raw image as an encoder input.
func ImageSample(img media.RawImage) pipeline.Sample {
	return pipeline.Sample{
		Data:     img.Pix,
		Caps:     media.RawCaps(img.Format, img.Width, img.Height),
		PTS:      img.PTS,
		DTS:      media.NoTimestamp,
		Duration: media.NoTimestamp,
	}
}

func jpegFromSample(s pipeline.Sample) ([]byte, error) {
	if len(s.Data) == 0 {
		return nil, errors.New("empty jpeg sample")
	}
	return s.Data, nil
}
