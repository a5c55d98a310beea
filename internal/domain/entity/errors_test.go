package entity

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAmbiguousSubmissionError_Matching(t *testing.T) {
	hash := common.HexToHash("0xabc")
	var err error = &AmbiguousSubmissionError{Provider: "p1", TxHash: hash, Err: io.ErrUnexpectedEOF}
	err = fmt.Errorf("submitting: %w", err)

	if !errors.Is(err, ErrAmbiguousSubmission) {
		t.Error("expected errors.Is(ErrAmbiguousSubmission)")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("expected underlying error to be reachable")
	}

	var amb *AmbiguousSubmissionError
	if !errors.As(err, &amb) {
		t.Fatal("expected errors.As to find AmbiguousSubmissionError")
	}
	if amb.TxHash != hash {
		t.Errorf("expected hash %s, got %s", hash, amb.TxHash)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("x: %w", ErrAllProvidersUnavailable), true},
		{ErrPriceUnavailable, true},
		{ErrConfirmationTimeout, true},
		{ErrOnChainRevert, false},
		{ErrInvalidOrderParameters, false},
		{&AmbiguousSubmissionError{Err: io.EOF}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
