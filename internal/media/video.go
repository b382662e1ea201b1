package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type frameGrabber interface {
	grab(ctx context.Context, path string, maxWidth int) ([]byte, error)
}

// ffmpegGrabber extracts a single JPEG frame with the ffmpeg binary.
type ffmpegGrabber struct {
	path string
}

func (g ffmpegGrabber) binary() (string, error) {
	if g.path != "" {
		return g.path, nil
	}
	p, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", errors.New("ffmpeg not found in PATH; install it to process video files")
	}
	return p, nil
}

// grab seeks one second in, falling back to the first frame for clips
// shorter than that.
func (g ffmpegGrabber) grab(ctx context.Context, path string, maxWidth int) ([]byte, error) {
	bin, err := g.binary()
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, offset := range []string{"1", "0"} {
		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-ss", offset, "-i", path,
			"-frames:v", "1",
			"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", maxWidth),
			"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-",
		}
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, bin, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			lastErr = fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
			continue
		}
		if stdout.Len() > 0 {
			return stdout.Bytes(), nil
		}
		lastErr = errors.New("ffmpeg produced no frame")
	}
	return nil, lastErr
}
