package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCategoryPlanning, CodePlanningInfeasible, "round too large")
	expected := "[PLANNING:PLANNING_INFEASIBLE] round too large"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryManifest, CodeManifestUnavailable, "fetch manifest", cause)
	expected := "[MANIFEST:MANIFEST_UNAVAILABLE] fetch manifest: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryChunk, CodeChunkFetchFailed, "chunk", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err1 := New(ErrCategoryChunk, CodeChunkFetchFailed, "first")
	err2 := New(ErrCategoryChunk, CodeChunkFetchFailed, "second")
	err3 := New(ErrCategoryChunk, CodeChecksumMismatch, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryChunk, CodeChunkFetchFailed, true},
		{ErrCategoryChunk, CodeChecksumMismatch, false},
		{ErrCategoryManifest, CodeManifestUnavailable, true},
		{ErrCategoryManifest, CodeUnsupportedVersion, false},
		{ErrCategoryPlanning, CodePlanningInfeasible, false},
		{ErrCategoryCache, CodeCacheFetchFailed, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	wrapped := fmt.Errorf("loader: %w", NewManifestError(CodeUnsupportedVersion, "major 2", nil))
	if GetCategory(wrapped) != ErrCategoryManifest {
		t.Errorf("got %q, want %q", GetCategory(wrapped), ErrCategoryManifest)
	}
	if !HasCode(wrapped, CodeUnsupportedVersion) {
		t.Errorf("expected code %s in chain", CodeUnsupportedVersion)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("plain error should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("plain error should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewPlanningError(CodePlanningInfeasible, "oversized round")
	detailed := err.WithDetails(map[string]interface{}{"filename": "cutoffs-ug-2024-rounds_1_1.json.gz"})

	if detailed.Details["filename"] != "cutoffs-ug-2024-rounds_1_1.json.gz" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	if e := NewChunkError(CodeChunkDecodeFailed, "bad gzip", cause); e.Category != ErrCategoryChunk || !errors.Is(e, cause) {
		t.Error("NewChunkError mismatch")
	}
	if e := NewCacheError(CodeCacheFetchFailed, "no entry", cause); e.Category != ErrCategoryCache {
		t.Error("NewCacheError mismatch")
	}
	if e := NewStorageError(CodeObjectNotFound, "missing", cause); e.Category != ErrCategoryStorage {
		t.Error("NewStorageError mismatch")
	}
	if e := NewConfigError("bad ttl", cause); e.Code != CodeInvalidConfig {
		t.Error("NewConfigError mismatch")
	}
	if e := NewInternalError("unexpected", cause); e.Category != ErrCategoryInternal || e.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}

func TestHasCodeWalksNestedErrors(t *testing.T) {
	inner := NewChunkError(CodeChecksumMismatch, "cutoffs-ug.json.gz", nil)
	outer := NewCacheError(CodeCacheFetchFailed, "fetch cutoffs-ug.json.gz", fmt.Errorf("loader: %w", inner))

	if !HasCode(outer, CodeCacheFetchFailed) || !HasCode(outer, CodeChecksumMismatch) {
		t.Error("expected both codes in chain")
	}
	if HasCode(outer, CodeChunkFetchFailed) {
		t.Error("unexpected code in chain")
	}
	if GetCode(outer) != CodeCacheFetchFailed {
		t.Errorf("GetCode should report the outermost code, got %s", GetCode(outer))
	}
}
