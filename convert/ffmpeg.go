package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

// FFmpeg transcodes with the ffmpeg binary.
type FFmpeg struct {
	Binary          string
	NoteSize        int // square edge of video notes, pixels
	NoteMaxSeconds  int
	VoiceMaxSeconds int
}

// NewFFmpeg returns an FFmpeg with the video note defaults (640px, 60s) and
// a five minute voice cap.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{Binary: "ffmpeg", NoteSize: 640, NoteMaxSeconds: 60, VoiceMaxSeconds: 300}
}

// OutputExt is the container extension produced for kind.
func OutputExt(kind ledger.MediaKind) string {
	if kind == ledger.KindVoice {
		return ".ogg"
	}
	return ".mp4"
}

// VideoNoteArgs builds the ffmpeg arguments for a square, cropped, H.264 clip.
func VideoNoteArgs(input, output string, size, maxSeconds int) []string {
	s := strconv.Itoa(size)
	vf := fmt.Sprintf("scale=%s:%s:force_original_aspect_ratio=increase,crop=%s:%s,format=yuv420p", s, s, s, s)
	return []string{
		"-y", "-i", input,
		"-t", strconv.Itoa(maxSeconds),
		"-vf", vf,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "96k",
		"-movflags", "+faststart",
		output,
	}
}

// VoiceArgs builds the ffmpeg arguments for a mono Opus voice note.
func VoiceArgs(input, output string, maxSeconds int) []string {
	return []string{
		"-y", "-i", input,
		"-t", strconv.Itoa(maxSeconds),
		"-vn", "-ac", "1", "-ar", "48000",
		"-c:a", "libopus", "-b:a", "32k",
		output,
	}
}

// Args returns the ffmpeg arguments for kind.
func (f *FFmpeg) Args(input, output string, kind ledger.MediaKind) ([]string, error) {
	switch kind {
	case ledger.KindVideo:
		return VideoNoteArgs(input, output, f.NoteSize, f.NoteMaxSeconds), nil
	case ledger.KindVoice:
		return VoiceArgs(input, output, f.VoiceMaxSeconds), nil
	default:
		return nil, ErrUnsupportedKind
	}
}

// Transcode runs ffmpeg and checks that a non-empty output was written.
func (f *FFmpeg) Transcode(ctx context.Context, input, output string, kind ledger.MediaKind) error {
	args, err := f.Args(input, output, kind)
	if err != nil {
		return err
	}
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Debug("ffmpeg output", slog.String("component", "convert_ffmpeg"), slog.String("output", string(out)))
		return fmt.Errorf("ffmpeg %s: %w: %s", kind, err, lastLine(out))
	}
	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w", kind, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("ffmpeg %s: output file is empty", kind)
	}
	return nil
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
