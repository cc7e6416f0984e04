// Package hdfs implements the VFS capability interfaces against
// WebHDFS, the REST contract HDFS namenodes expose. No example
// repository in the reference corpus imports a native HDFS client
// library, so this backend is built directly on net/http rather than
// any of the pack's third-party dependencies.
package hdfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	vfserrors "github.com/arrayvfs/arrayvfs/pkg/errors"
	"github.com/arrayvfs/arrayvfs/pkg/types"
)

// Config addresses a WebHDFS namenode.
type Config struct {
	// NamenodeURL is the base URL of the namenode's WebHDFS endpoint,
	// e.g. "http://namenode:9870".
	NamenodeURL string

	// User is the HDFS username passed on every request's user.name
	// query parameter (WebHDFS's pseudo-authentication mode).
	User string

	// RequestTimeout bounds every individual HTTP round-trip.
	RequestTimeout time.Duration
}

// NewDefaultConfig returns a Config with a conservative request timeout.
func NewDefaultConfig() *Config {
	return &Config{RequestTimeout: 30 * time.Second}
}

// Backend implements types.Backend and the trivial-success
// types.FilelockBackend contract against one WebHDFS namenode.
type Backend struct {
	cfg    *Config
	client *http.Client
}

// NewBackend returns an HDFS Backend talking WebHDFS to cfg.NamenodeURL.
func NewBackend(cfg *Config) *Backend {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

var _ types.Backend = (*Backend)(nil)
var _ types.FilelockBackend = (*Backend)(nil)

// SupportsURIScheme reports whether uri uses the hdfs:// scheme.
func (b *Backend) SupportsURIScheme(uri string) bool {
	return strings.HasPrefix(uri, "hdfs://")
}

func (b *Backend) webhdfsURL(path, op string, extra url.Values) string {
	v := url.Values{}
	v.Set("op", op)
	if b.cfg.User != "" {
		v.Set("user.name", b.cfg.User)
	}
	for k, vals := range extra {
		for _, val := range vals {
			v.Add(k, val)
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s/webhdfs/v1%s?%s", strings.TrimSuffix(b.cfg.NamenodeURL, "/"), path, v.Encode())
}

func (b *Backend) do(ctx context.Context, op, method, path string, extra url.Values, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.webhdfsURL(path, op, extra), body)
	if err != nil {
		return nil, vfserrors.Wrap(vfserrors.CodeBackendError, err, "failed to build WebHDFS request").
			WithComponent("hdfs").WithOperation(op)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, vfserrors.Wrap(vfserrors.CodeBackendError, err, "WebHDFS request failed").
			WithComponent("hdfs").WithOperation(op).WithRetryable(true)
	}
	return resp, nil
}

type remoteException struct {
	RemoteException struct {
		Exception string `json:"exception"`
		Message   string `json:"message"`
	} `json:"RemoteException"`
}

func (b *Backend) translateStatus(op, path string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var re remoteException
	_ = json.Unmarshal(body, &re)
	msg := re.RemoteException.Message
	if msg == "" {
		msg = string(body)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return vfserrors.New(vfserrors.CodeNotFound, msg).WithComponent("hdfs").WithOperation(op)
	case http.StatusConflict:
		if re.RemoteException.Exception == "FileAlreadyExistsException" {
			return vfserrors.New(vfserrors.CodeAlreadyExists, msg).WithComponent("hdfs").WithOperation(op)
		}
		return vfserrors.New(vfserrors.CodeBackendError, msg).WithComponent("hdfs").WithOperation(op)
	default:
		return vfserrors.New(vfserrors.CodeBackendError, msg).
			WithComponent("hdfs").WithOperation(op).WithRetryable(resp.StatusCode >= 500)
	}
}

// CreateDir issues WebHDFS MKDIRS, which creates any missing parents.
func (b *Backend) CreateDir(ctx context.Context, path string) error {
	resp, err := b.do(ctx, "MKDIRS", http.MethodPut, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b.translateStatus("create_dir", path, resp)
	}
	return nil
}

// RemoveDir issues WebHDFS DELETE with recursive=true.
func (b *Backend) RemoveDir(ctx context.Context, path string) error {
	resp, err := b.do(ctx, "DELETE", http.MethodDelete, path, url.Values{"recursive": {"true"}}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b.translateStatus("remove_dir", path, resp)
	}
	return nil
}

type fileStatusResponse struct {
	FileStatus struct {
		Type           string `json:"type"`
		Length         uint64 `json:"length"`
		PathSuffix     string `json:"pathSuffix"`
		ModificationMs int64  `json:"modificationTime"`
	} `json:"FileStatus"`
}

func (b *Backend) getFileStatus(ctx context.Context, op, path string) (*fileStatusResponse, error) {
	resp, err := b.do(ctx, "GETFILESTATUS", http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, b.translateStatus(op, path, resp)
	}
	var fs fileStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&fs); err != nil {
		return nil, vfserrors.Wrap(vfserrors.CodeBackendError, err, "failed to decode GETFILESTATUS response").
			WithComponent("hdfs").WithOperation(op)
	}
	return &fs, nil
}

// IsDir reports whether path names a directory.
func (b *Backend) IsDir(ctx context.Context, path string) (bool, error) {
	fs, err := b.getFileStatus(ctx, "is_dir", path)
	if code, ok := vfserrors.CodeOf(err); ok && code == vfserrors.CodeNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fs.FileStatus.Type == "DIRECTORY", nil
}

// IsFile reports whether path names a file.
func (b *Backend) IsFile(ctx context.Context, path string) (bool, error) {
	fs, err := b.getFileStatus(ctx, "is_file", path)
	if code, ok := vfserrors.CodeOf(err); ok && code == vfserrors.CodeNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fs.FileStatus.Type == "FILE", nil
}

// FileSize returns the size in bytes of the file at path.
func (b *Backend) FileSize(ctx context.Context, path string) (uint64, error) {
	fs, err := b.getFileStatus(ctx, "file_size", path)
	if err != nil {
		return 0, err
	}
	return fs.FileStatus.Length, nil
}

type listStatusResponse struct {
	FileStatuses struct {
		FileStatus []struct {
			Type       string `json:"type"`
			Length     uint64 `json:"length"`
			PathSuffix string `json:"pathSuffix"`
		} `json:"FileStatus"`
	} `json:"FileStatuses"`
}

// Ls lists the immediate children of path, sorted by name.
func (b *Backend) Ls(ctx context.Context, path string) ([]types.FileInfo, error) {
	resp, err := b.do(ctx, "LISTSTATUS", http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, b.translateStatus("ls", path, resp)
	}

	var ls listStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&ls); err != nil {
		return nil, vfserrors.Wrap(vfserrors.CodeBackendError, err, "failed to decode LISTSTATUS response").
			WithComponent("hdfs").WithOperation("ls")
	}

	infos := make([]types.FileInfo, 0, len(ls.FileStatuses.FileStatus))
	for _, fs := range ls.FileStatuses.FileStatus {
		infos = append(infos, types.FileInfo{
			Path:  strings.TrimSuffix(path, "/") + "/" + fs.PathSuffix,
			Size:  fs.Length,
			IsDir: fs.Type == "DIRECTORY",
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// Touch creates an empty file at path via WebHDFS CREATE with
// overwrite=false, succeeding without error if the file already exists.
func (b *Backend) Touch(ctx context.Context, path string) error {
	if err := b.putCreate(ctx, path, nil, false); err != nil {
		if code, ok := vfserrors.CodeOf(err); ok && code == vfserrors.CodeAlreadyExists {
			return nil
		}
		return err
	}
	return nil
}

// RemoveFile removes the file at path via WebHDFS DELETE.
func (b *Backend) RemoveFile(ctx context.Context, path string) error {
	resp, err := b.do(ctx, "DELETE", http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b.translateStatus("remove_file", path, resp)
	}
	return nil
}

// MovePath renames oldPath to newPath via WebHDFS RENAME.
func (b *Backend) MovePath(ctx context.Context, oldPath, newPath string) error {
	resp, err := b.do(ctx, "RENAME", http.MethodPut, oldPath, url.Values{"destination": {newPath}}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b.translateStatus("move_path", oldPath, resp)
	}
	return nil
}

// Read reads nbytes starting at offset from the file at path into buffer
// via WebHDFS OPEN.
func (b *Backend) Read(ctx context.Context, path string, offset uint64, buffer []byte, nbytes uint64) error {
	if nbytes == 0 {
		return nil
	}
	params := url.Values{
		"offset": {strconv.FormatUint(offset, 10)},
		"length": {strconv.FormatUint(nbytes, 10)},
	}
	resp, err := b.do(ctx, "OPEN", http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b.translateStatus("read", path, resp)
	}

	n, err := io.ReadFull(resp.Body, buffer[:nbytes])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return vfserrors.Wrap(vfserrors.CodeBackendError, err, "failed reading WebHDFS response body").
			WithComponent("hdfs").WithOperation("read")
	}
	if uint64(n) != nbytes {
		return vfserrors.New(vfserrors.CodeBackendError, "short read").
			WithComponent("hdfs").WithOperation("read")
	}
	return nil
}

func (b *Backend) putCreate(ctx context.Context, path string, data []byte, overwrite bool) error {
	params := url.Values{"overwrite": {strconv.FormatBool(overwrite)}}
	resp, err := b.do(ctx, "CREATE", http.MethodPut, path, params, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return b.translateStatus("write", path, resp)
	}
	return nil
}

func (b *Backend) postAppend(ctx context.Context, path string, data []byte) error {
	resp, err := b.do(ctx, "APPEND", http.MethodPost, path, nil, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b.translateStatus("write", path, resp)
	}
	return nil
}

// Write appends data to the file at path, creating it via CREATE when
// it does not already exist and falling through to APPEND otherwise.
func (b *Backend) Write(ctx context.Context, path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	exists, err := b.IsFile(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return b.putCreate(ctx, path, data, false)
	}
	return b.postAppend(ctx, path, data)
}

// Sync is a no-op: WebHDFS CREATE/APPEND calls complete durably on
// success, with no separate flush step exposed over the REST contract.
func (b *Backend) Sync(ctx context.Context, path string) error {
	return nil
}

// FilelockLock is a trivial success: HDFS exposes no advisory-lock
// primitive for the filelock registry to call through to, per the VFS
// contract's rule that remote-scheme locks short-circuit to success.
func (b *Backend) FilelockLock(ctx context.Context, path string, exclusive bool) error {
	return nil
}

// FilelockUnlock is a trivial success, mirroring FilelockLock.
func (b *Backend) FilelockUnlock(ctx context.Context, path string) error {
	return nil
}
