// Package protocol defines the JSON request/response schema exchanged with
// the browser-side peer (§3, §6 of the bridge design) and the helpers that
// build well-formed requests and decode their matching responses.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Request is the wire shape of every outbound message. Not every field
// applies to every op; fields that don't apply are left at their zero value
// and omitted from the JSON by their `omitempty` tags, matching the
// "absent fields mean not applicable" rule of §6.
type Request struct {
	ID     uint64 `json:"id"`
	Op     string `json:"op"`
	Path   string `json:"path"`
	Flags  *int32 `json:"flags,omitempty"`
	Size   *int64 `json:"size,omitempty"`
	Offset *int64 `json:"offset,omitempty"`
	Fh     *uint64 `json:"fh,omitempty"`
	Mode   *uint32 `json:"mode,omitempty"`
	Buf    string  `json:"buf,omitempty"`
}

// Response is the wire shape of every inbound message. Error is a POSIX
// errno; zero or absent means success.
type Response struct {
	ID            uint64   `json:"id"`
	Error         int      `json:"error,omitempty"`
	StMode        *uint32  `json:"st_mode,omitempty"`
	StNlink       *uint32  `json:"st_nlink,omitempty"`
	StSize        *int64   `json:"st_size,omitempty"`
	Fh            *uint64  `json:"fh,omitempty"`
	Buf           string   `json:"buf,omitempty"`
	Base64Encoded bool     `json:"base64Encoded,omitempty"`
	Entries       []string `json:"entries,omitempty"`
	Size          *int64   `json:"size,omitempty"`
}

// Op name constants, the closed set from §4.1.
const (
	OpGetattr     = "getattr"
	OpReadlink    = "readlink"
	OpOpen        = "open"
	OpOpendir     = "opendir"
	OpRead        = "read"
	OpWrite       = "write"
	OpRelease     = "release"
	OpReleasedir  = "releasedir"
	OpReaddir     = "readdir"
	OpTruncate    = "truncate"
	OpUnlink      = "unlink"
	OpMkdir       = "mkdir"
	OpMknod       = "mknod"
	OpCreate      = "create"
)

func i32(v int32) *int32   { return &v }
func i64(v int64) *int64   { return &v }
func u64(v uint64) *uint64 { return &v }
func u32(v uint32) *uint32 { return &v }

// NewGetattr builds a getattr request for path.
func NewGetattr(path string) *Request {
	return &Request{Op: OpGetattr, Path: path}
}

// NewReadlink builds a readlink request for path.
func NewReadlink(path string) *Request {
	return &Request{Op: OpReadlink, Path: path}
}

// NewOpen builds an open request.
func NewOpen(path string, flags int32) *Request {
	return &Request{Op: OpOpen, Path: path, Flags: i32(flags)}
}

// NewOpendir builds an opendir request.
func NewOpendir(path string, flags int32) *Request {
	return &Request{Op: OpOpendir, Path: path, Flags: i32(flags)}
}

// NewRead builds a read request.
func NewRead(path string, size, offset int64, fh uint64, flags int32) *Request {
	return &Request{Op: OpRead, Path: path, Size: i64(size), Offset: i64(offset), Fh: u64(fh), Flags: i32(flags)}
}

// NewWrite builds a write request. buf is raw (unencoded) bytes; it is
// base64-encoded here, since binary content on the wire is always
// base64 for write (§3 invariant 4).
func NewWrite(path string, buf []byte, offset int64, fh uint64, flags int32) *Request {
	return &Request{
		Op:     OpWrite,
		Path:   path,
		Buf:    base64.StdEncoding.EncodeToString(buf),
		Size:   i64(int64(len(buf))),
		Offset: i64(offset),
		Fh:     u64(fh),
		Flags:  i32(flags),
	}
}

// NewRelease builds a release request.
func NewRelease(path string, fh uint64) *Request {
	return &Request{Op: OpRelease, Path: path, Fh: u64(fh)}
}

// NewReleasedir builds a releasedir request.
func NewReleasedir(path string, fh uint64) *Request {
	return &Request{Op: OpReleasedir, Path: path, Fh: u64(fh)}
}

// NewReaddir builds a readdir request.
func NewReaddir(path string, offset int64) *Request {
	return &Request{Op: OpReaddir, Path: path, Offset: i64(offset)}
}

// NewTruncate builds a truncate request.
func NewTruncate(path string, size int64) *Request {
	return &Request{Op: OpTruncate, Path: path, Size: i64(size)}
}

// NewUnlink builds an unlink request.
func NewUnlink(path string) *Request {
	return &Request{Op: OpUnlink, Path: path}
}

// NewMkdir builds a mkdir request.
func NewMkdir(path string, mode uint32) *Request {
	return &Request{Op: OpMkdir, Path: path, Mode: u32(mode)}
}

// NewMknod builds a mknod request.
func NewMknod(path string, mode uint32) *Request {
	return &Request{Op: OpMknod, Path: path, Mode: u32(mode)}
}

// NewCreate builds a create request.
func NewCreate(path string, mode uint32) *Request {
	return &Request{Op: OpCreate, Path: path, Mode: u32(mode)}
}

// DecodeBuf returns the raw bytes carried in a response's Buf field,
// decoding base64 only when the peer marked the payload as such. Per the
// read/readlink contract (§4.1), an unmarked Buf is already raw text and is
// returned as-is.
func DecodeBuf(resp *Response) ([]byte, error) {
	if !resp.Base64Encoded {
		return []byte(resp.Buf), nil
	}
	b, err := base64.StdEncoding.DecodeString(resp.Buf)
	if err != nil {
		return nil, fmt.Errorf("decode base64 buf: %w", err)
	}
	return b, nil
}

// Marshal serializes a request to the wire form.
func Marshal(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// Unmarshal parses a response from the wire form.
func Unmarshal(data []byte, resp *Response) error {
	return json.Unmarshal(data, resp)
}
