// Package uri parses the scheme-qualified paths the VFS facade dispatches
// on: file://, hdfs://, and s3://.
package uri

import (
	"fmt"
	"strings"
)

// Scheme identifies which backend a URI routes to.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeHDFS Scheme = "hdfs"
	SchemeS3   Scheme = "s3"
)

// URI is a parsed scheme-qualified path. Construct with Parse; the zero
// value is not valid.
type URI struct {
	scheme Scheme
	raw    string // original string, verbatim
	path   string // scheme-stripped path, e.g. "/tmp/x" or "bucket/key"
}

// Parse splits s into a Scheme and path. Recognized schemes are file,
// hdfs, and s3; anything else fails with an unsupported-scheme error.
func Parse(s string) (URI, error) {
	idx := strings.Index(s, "://")
	if idx < 0 {
		return URI{}, fmt.Errorf("uri: %q has no scheme separator", s)
	}
	scheme := Scheme(s[:idx])
	path := s[idx+3:]

	switch scheme {
	case SchemeFile, SchemeHDFS, SchemeS3:
	default:
		return URI{}, fmt.Errorf("uri: unsupported scheme %q", scheme)
	}

	return URI{scheme: scheme, raw: s, path: path}, nil
}

// Scheme returns the URI's scheme.
func (u URI) Scheme() Scheme { return u.scheme }

// IsFile reports whether the URI's scheme is file.
func (u URI) IsFile() bool { return u.scheme == SchemeFile }

// IsHDFS reports whether the URI's scheme is hdfs.
func (u URI) IsHDFS() bool { return u.scheme == SchemeHDFS }

// IsS3 reports whether the URI's scheme is s3.
func (u URI) IsS3() bool { return u.scheme == SchemeS3 }

// ToString returns the URI exactly as parsed.
func (u URI) ToString() string { return u.raw }

// ToPath returns the scheme-stripped native path as written: for
// file:// URIs this is a filesystem path, absolute only when the URI
// has a leading slash after the scheme (file:///tmp/x); for hdfs:// and
// s3:// it is the backend-native key/path. No normalization is applied.
func (u URI) ToPath() string { return u.path }

// Join appends elem to the URI's path, scheme preserved.
func (u URI) Join(elem string) URI {
	p := strings.TrimSuffix(u.path, "/") + "/" + strings.TrimPrefix(elem, "/")
	return URI{scheme: u.scheme, raw: string(u.scheme) + "://" + p, path: p}
}

// SupportsScheme reports whether s is one of the three recognized
// schemes.
func SupportsScheme(s Scheme) bool {
	switch s {
	case SchemeFile, SchemeHDFS, SchemeS3:
		return true
	default:
		return false
	}
}
