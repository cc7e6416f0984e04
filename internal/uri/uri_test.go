package uri

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in         string
		wantScheme Scheme
		wantPath   string
	}{
		{"file:///tmp/x", SchemeFile, "/tmp/x"},
		{"hdfs://namenode/path/to/file", SchemeHDFS, "namenode/path/to/file"},
		{"s3://bucket/key", SchemeS3, "bucket/key"},
	}
	for _, tt := range tests {
		u, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if u.Scheme() != tt.wantScheme {
			t.Errorf("Scheme() = %q, want %q", u.Scheme(), tt.wantScheme)
		}
		if u.ToPath() != tt.wantPath {
			t.Errorf("ToPath() = %q, want %q", u.ToPath(), tt.wantPath)
		}
		if u.ToString() != tt.in {
			t.Errorf("ToString() = %q, want %q", u.ToString(), tt.in)
		}
	}
}

func TestParse_UnsupportedScheme(t *testing.T) {
	if _, err := Parse("ftp://host/path"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestParse_NoScheme(t *testing.T) {
	if _, err := Parse("/tmp/x"); err == nil {
		t.Fatal("expected error for missing scheme separator")
	}
}

func TestPredicates(t *testing.T) {
	f, _ := Parse("file:///a")
	h, _ := Parse("hdfs://n/a")
	s, _ := Parse("s3://b/a")

	if !f.IsFile() || f.IsHDFS() || f.IsS3() {
		t.Error("file predicate mismatch")
	}
	if !h.IsHDFS() || h.IsFile() || h.IsS3() {
		t.Error("hdfs predicate mismatch")
	}
	if !s.IsS3() || s.IsFile() || s.IsHDFS() {
		t.Error("s3 predicate mismatch")
	}
}

func TestJoin(t *testing.T) {
	u, _ := Parse("s3://bucket/dir")
	j := u.Join("child")
	if got := j.ToPath(); got != "bucket/dir/child" {
		t.Errorf("Join path = %q, want %q", got, "bucket/dir/child")
	}
	if j.Scheme() != SchemeS3 {
		t.Errorf("Join scheme = %q, want s3", j.Scheme())
	}
}

func TestSupportsScheme(t *testing.T) {
	if !SupportsScheme(SchemeFile) || !SupportsScheme(SchemeHDFS) || !SupportsScheme(SchemeS3) {
		t.Error("expected all three recognized schemes to be supported")
	}
	if SupportsScheme(Scheme("ftp")) {
		t.Error("expected unsupported scheme to report false")
	}
}
