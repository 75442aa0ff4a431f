package convert

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassUnknown},
		{"deadline", fmt.Errorf("transcode: %w", context.DeadlineExceeded), ErrorClassRetryable},
		{"bad gateway", errors.New("telegram: 502 Bad Gateway"), ErrorClassRetryable},
		{"reset", errors.New("read tcp: connection reset by peer"), ErrorClassRetryable},
		{"corrupt input", errors.New("ffmpeg video: exit status 1: in.mp4: Invalid data found when processing input"), ErrorClassFatal},
		{"moov", errors.New("moov atom not found"), ErrorClassFatal},
		{"empty output", errors.New("ffmpeg voice: output file is empty"), ErrorClassFatal},
		{"kind", fmt.Errorf("x: %w", ErrUnsupportedKind), ErrorClassFatal},
		{"other", errors.New("something odd"), ErrorClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("something odd")) {
		t.Error("unknown errors should be retryable")
	}
	if IsRetryable(errors.New("moov atom not found")) {
		t.Error("corrupt input should not be retryable")
	}
}
