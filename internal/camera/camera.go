// Package camera acquires JPEG frames from a camera source and fans them
// out to the rest of the pipeline. Supported sources: V4L2 devices and
// RTSP/HTTP streams (both read through an ffmpeg image2pipe child
// process), and HTTP still-image URLs (polled at the capture rate).
package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Capture runs the background frame acquisition loop for a single camera.
// Frames are delivered on a buffered channel; slow consumers cause frames
// to be dropped rather than backing up the capture path.
type Capture struct {
	device string
	width  int
	height int
	fps    int
	log    zerolog.Logger

	mu      sync.RWMutex
	current []byte

	frames chan []byte
}

// NewCapture creates a capture for the given source.
func NewCapture(device string, width, height, fps int, logger zerolog.Logger) *Capture {
	return &Capture{
		device: device,
		width:  width,
		height: height,
		fps:    fps,
		log:    logger,
		frames: make(chan []byte, 10),
	}
}

// Frames returns the channel of captured JPEG frames. The channel is
// closed when Run returns.
func (c *Capture) Frames() <-chan []byte {
	return c.frames
}

// CurrentFrame returns the newest captured frame, or nil while the camera
// is still warming up. The returned bytes are immutable.
func (c *Capture) CurrentFrame() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Ready reports whether at least one frame has been captured.
func (c *Capture) Ready() bool {
	return c.CurrentFrame() != nil
}

// Run drives the capture loop until the context is cancelled. It restarts
// the underlying source on failure with a short backoff, mirroring a
// camera that drops out and comes back.
func (c *Capture) Run(ctx context.Context) {
	defer close(c.frames)

	c.log.Info().
		Str("device", c.device).
		Int("fps", c.fps).
		Msg("camera capture started")

	for {
		var err error
		if isStillImageURL(c.device) {
			err = c.pollStillImages(ctx)
		} else {
			err = c.runFFmpeg(ctx)
		}

		if ctx.Err() != nil {
			c.log.Info().Msg("camera capture stopped")
			return
		}
		if err != nil {
			c.log.Error().Err(err).Msg("capture source failed, retrying")
		}

		select {
		case <-ctx.Done():
			c.log.Info().Msg("camera capture stopped")
			return
		case <-time.After(time.Second):
		}
	}
}

// isStillImageURL checks for an HTTP endpoint serving single JPEG images.
func isStillImageURL(device string) bool {
	if !strings.HasPrefix(device, "http://") && !strings.HasPrefix(device, "https://") {
		return false
	}
	return strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg")
}

// pollStillImages fetches a still-image URL at the capture rate.
func (c *Capture) pollStillImages(ctx context.Context) error {
	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(c.fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			resp, err := client.Get(c.device)
			if err != nil {
				c.log.Warn().Err(err).Msg("still-image fetch failed")
				continue
			}
			frame, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				c.log.Warn().Err(err).Msg("still-image read failed")
				continue
			}
			if resp.StatusCode != http.StatusOK {
				c.log.Warn().Int("status", resp.StatusCode).Msg("still-image fetch rejected")
				continue
			}
			c.publish(frame)
		}
	}
}

// runFFmpeg spawns ffmpeg writing an MJPEG byte stream to stdout and cuts
// it into individual JPEG frames.
func (c *Capture) runFFmpeg(ctx context.Context) error {
	var args []string
	switch {
	case strings.HasPrefix(c.device, "rtsp://"):
		args = []string{
			"-rtsp_transport", "tcp",
			"-i", c.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", c.fps),
			"-q:v", "5",
			"-",
		}
	case strings.HasPrefix(c.device, "http://"), strings.HasPrefix(c.device, "https://"):
		args = []string{
			"-i", c.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", c.fps),
			"-q:v", "5",
			"-",
		}
	default:
		args = []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
			"-framerate", fmt.Sprintf("%d", c.fps),
			"-i", c.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		}
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// Drain stderr so ffmpeg never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)
	for {
		n, err := stdout.Read(chunk)
		if err != nil {
			cmd.Wait()
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read ffmpeg output: %w", err)
		}

		buffer = append(buffer, chunk[:n]...)
		for {
			frame := ExtractJPEGFrame(&buffer)
			if frame == nil {
				break
			}
			c.publish(frame)
		}
	}
}

// publish records the frame as current and offers it to the consumer,
// dropping it when the channel is full.
func (c *Capture) publish(frame []byte) {
	c.mu.Lock()
	c.current = frame
	c.mu.Unlock()

	select {
	case c.frames <- frame:
	default:
		// Consumer is behind; drop the frame instead of stalling capture.
	}
}
