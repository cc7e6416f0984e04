package s3

import "testing"

func TestCalculatePartCount(t *testing.T) {
	tests := []struct {
		name          string
		fileSize      int64
		chunkSize     int64
		expectedParts int
	}{
		{"exact division", 64 * 1024 * 1024, 16 * 1024 * 1024, 4},
		{"with remainder", 70 * 1024 * 1024, 16 * 1024 * 1024, 5},
		{"single part", 10 * 1024 * 1024, 16 * 1024 * 1024, 1},
		{"zero chunk size", 100 * 1024 * 1024, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculatePartCount(tt.fileSize, tt.chunkSize); got != tt.expectedParts {
				t.Errorf("CalculatePartCount(%d, %d) = %d, want %d",
					tt.fileSize, tt.chunkSize, got, tt.expectedParts)
			}
		})
	}
}

func TestMultipartUploadState_Progress(t *testing.T) {
	state := NewMultipartUploadState("upload-1", "bucket", "key", 64*1024*1024, 16*1024*1024)

	if state.TotalParts != 4 {
		t.Fatalf("TotalParts = %d, want 4", state.TotalParts)
	}

	state.MarkPartCompleted(1, 16*1024*1024, "etag-1")
	state.MarkPartCompleted(2, 16*1024*1024, "etag-2")

	if got := state.GetProgress(); got != 50.0 {
		t.Errorf("GetProgress() = %.1f, want 50.0", got)
	}
	if state.IsComplete() {
		t.Error("expected upload to be incomplete")
	}

	state.MarkPartCompleted(3, 16*1024*1024, "etag-3")
	state.MarkPartCompleted(4, 16*1024*1024, "etag-4")

	if !state.IsComplete() {
		t.Error("expected upload to be complete")
	}
}

func TestMultipartStateManager(t *testing.T) {
	mgr := NewMultipartStateManager()
	state := NewMultipartUploadState("upload-1", "bucket", "key", 32*1024*1024, 16*1024*1024)
	mgr.TrackUpload(state)

	got, ok := mgr.GetUploadState("upload-1")
	if !ok || got != state {
		t.Fatal("expected to retrieve tracked upload")
	}

	mgr.UpdatePartStatus("upload-1", 1, 16*1024*1024, "etag-1", nil)
	if got.CompletedParts != 1 {
		t.Errorf("CompletedParts = %d, want 1", got.CompletedParts)
	}

	mgr.MarkUploadCompleted("upload-1")
	if got.Status != UploadStatusCompleted {
		t.Errorf("Status = %v, want completed", got.Status)
	}

	mgr.RemoveUpload("upload-1")
	if _, ok := mgr.GetUploadState("upload-1"); ok {
		t.Error("expected upload to be removed")
	}
}
