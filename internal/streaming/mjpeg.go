package streaming

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

const mjpegBoundary = "fleetctlframe"

// WriteMJPEG serves the `GET /camera/stream` endpoint: a
// `multipart/x-mixed-replace` stream of JPEG-encoded CaptureFrame output,
// written until the client disconnects or provider.CaptureFrame errors
// (drone landed/stream stopped). The WebRTC path in this package is an
// alternative transport alongside it.
func WriteMJPEG(ctx context.Context, w http.ResponseWriter, provider FrameProvider, interval time.Duration, log *logger.Logger) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mjpegBoundary))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, err := provider.CaptureFrame(ctx)
			if err != nil {
				return err
			}
			jpegBytes, err := EncodeJPEG(frame)
			if err != nil {
				log.WithError(err).Debug("streaming: jpeg encode failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpegBytes)); err != nil {
				return err
			}
			if _, err := w.Write(jpegBytes); err != nil {
				return err
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// EncodeJPEG converts a Frame's raw RGB buffer into a JPEG image. Real
// hardware or an encoded frame source would make this a pass-through;
// the simulated backend's solid-color/synthetic frames need the
// conversion done here. Exported so the httpapi photo-capture endpoint
// can reuse the same conversion instead of duplicating it.
func EncodeJPEG(f capability.Frame) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	for i := 0; i < n && i*3+2 < len(f.Pixels); i++ {
		px := img.Pix[i*4 : i*4+4 : i*4+4]
		px[0] = f.Pixels[i*3]
		px[1] = f.Pixels[i*3+1]
		px[2] = f.Pixels[i*3+2]
		px[3] = 0xff
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
