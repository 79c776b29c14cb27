package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"os/exec"
	"strings"
	"time"
)

// FFmpegGrabber decodes a single JPEG frame from a stream URI by invoking
// ffmpeg per grab. One process per frame keeps the unit stateless: a hung
// stream costs one timed-out process, not a wedged decoder.
type FFmpegGrabber struct {
	// Path is the ffmpeg binary, "ffmpeg" if empty.
	Path string
	// Timeout bounds a single grab, 15s if zero.
	Timeout time.Duration
}

func (g *FFmpegGrabber) binary() string {
	if g.Path != "" {
		return g.Path
	}
	return "ffmpeg"
}

func (g *FFmpegGrabber) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return 15 * time.Second
}

// Grab runs ffmpeg to pull one frame from sourceURI and returns it as
// JPEG bytes with decoded dimensions.
func (g *FFmpegGrabber) Grab(ctx context.Context, sourceURI string) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(sourceURI, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", sourceURI,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, g.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("ffmpeg: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	data := stdout.Bytes()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &Frame{
		Data:       append([]byte(nil), data...),
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now(),
	}, nil
}

// FileGrabber reads frames from a JPEG file on disk. Used in development
// mode where no camera streams are available.
type FileGrabber struct{}

func (FileGrabber) Grab(ctx context.Context, sourceURI string) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(sourceURI, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame file: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &Frame{
		Data:       data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now(),
	}, nil
}
