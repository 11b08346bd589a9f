// Package archivedetect classifies a fetched artifact's container and
// compression format from three layers of evidence: the filename/URL,
// HTTP response headers, and the leading bytes of the body. Built fresh,
// following pkgname's and depspec's layered, confidence-ranked,
// fallthrough-to-unknown classification style.
package archivedetect

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"
)

// Container is the outer archive container format, if any.
type Container string

const (
	ContainerNone Container = ""
	ContainerTar  Container = "tar"
	ContainerZip  Container = "zip"
)

// Compression is the outer byte-stream compression, if any.
type Compression string

const (
	CompressionNone    Compression = ""
	CompressionGzip    Compression = "gzip"
	CompressionBzip2   Compression = "bzip2"
	CompressionXZ      Compression = "xz"
	CompressionZstd    Compression = "zstd"
	CompressionLZ4     Compression = "lz4"
	CompressionLzip    Compression = "lzip"
	CompressionCompress Compression = "compress" // classic Unix .Z
)

// Confidence ranks how certain a detection is.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Result is the outcome of a detection pass.
type Result struct {
	Container     Container
	Compression   Compression
	IsTarballLike bool
	Confidence    Confidence
	Reasons       []string
}

func (r *Result) addReason(c Confidence, reason string) {
	r.Reasons = append(r.Reasons, reason)
	if rank(c) > rank(r.Confidence) {
		r.Confidence = c
	}
}

func rank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// extHints maps a recognized filename/URL suffix to the container and
// compression it implies.
var extHints = []struct {
	suffix      string
	container   Container
	compression Compression
}{
	{".tar.gz", ContainerTar, CompressionGzip},
	{".tgz", ContainerTar, CompressionGzip},
	{".tar.bz2", ContainerTar, CompressionBzip2},
	{".tbz2", ContainerTar, CompressionBzip2},
	{".tar.xz", ContainerTar, CompressionXZ},
	{".txz", ContainerTar, CompressionXZ},
	{".tar.zst", ContainerTar, CompressionZstd},
	{".tzst", ContainerTar, CompressionZstd},
	{".tar.lz4", ContainerTar, CompressionLZ4},
	{".tlz4", ContainerTar, CompressionLZ4},
	{".tar.lz", ContainerTar, CompressionLzip},
	{".tar.Z", ContainerTar, CompressionCompress},
	{".tar", ContainerTar, CompressionNone},
	{".zip", ContainerZip, CompressionNone},
}

// DetectFromName inspects a filename or URL path for a recognized archive
// extension. It never reports high confidence on its own: a name is a
// hint, not proof.
func DetectFromName(name string) Result {
	lower := strings.ToLower(name)
	var r Result
	for _, h := range extHints {
		if strings.HasSuffix(lower, strings.ToLower(h.suffix)) {
			r.Container = h.container
			r.Compression = h.compression
			r.IsTarballLike = h.container == ContainerTar
			r.addReason(ConfidenceLow, "filename suffix "+h.suffix)
			return r
		}
	}
	return r
}

// DetectFromHeaders inspects Content-Type, Content-Encoding and
// Content-Disposition for archive hints. Content-Disposition filenames are
// parsed per RFC 6266 (and its RFC 8187 extended-parameter form,
// filename*=UTF-8''...) via mime.ParseMediaType, which understands both.
func DetectFromHeaders(h http.Header) Result {
	var r Result

	if enc := strings.ToLower(h.Get("Content-Encoding")); enc != "" {
		switch enc {
		case "gzip", "x-gzip":
			r.Compression = CompressionGzip
			r.addReason(ConfidenceMedium, "Content-Encoding: "+enc)
		case "br":
			// Brotli is a valid transport encoding but not one of the
			// archive compressions this detector classifies; noted, not
			// promoted to a Compression value.
			r.addReason(ConfidenceLow, "Content-Encoding: br (not an archive compression)")
		}
	}

	if ct := h.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil {
			switch mediaType {
			case "application/gzip", "application/x-gzip":
				r.Compression = CompressionGzip
				r.addReason(ConfidenceMedium, "Content-Type: "+mediaType)
			case "application/x-bzip2":
				r.Compression = CompressionBzip2
				r.addReason(ConfidenceMedium, "Content-Type: "+mediaType)
			case "application/x-xz":
				r.Compression = CompressionXZ
				r.addReason(ConfidenceMedium, "Content-Type: "+mediaType)
			case "application/zstd":
				r.Compression = CompressionZstd
				r.addReason(ConfidenceMedium, "Content-Type: "+mediaType)
			case "application/x-tar":
				r.Container = ContainerTar
				r.IsTarballLike = true
				r.addReason(ConfidenceMedium, "Content-Type: "+mediaType)
			case "application/zip", "application/x-zip-compressed":
				r.Container = ContainerZip
				r.addReason(ConfidenceMedium, "Content-Type: "+mediaType)
			}
		}
	}

	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				named := DetectFromName(fn)
				if named.Container != ContainerNone || named.Compression != CompressionNone {
					r.Container = named.Container
					r.Compression = named.Compression
					r.IsTarballLike = r.IsTarballLike || named.IsTarballLike
					r.addReason(ConfidenceLow, "Content-Disposition filename "+strconv.Quote(fn))
				}
			}
		}
	}

	return r
}

const defaultSniffBytes = 1024

// magic numbers for byte-sniffing, checked in order. gzip is checked last
// among the compressions because its confirmation step (re-peeking for an
// embedded ustar header) is the most expensive and only worth doing once
// cheaper checks have failed.
var magicChecks = []struct {
	compression Compression
	magic       []byte
}{
	{CompressionBzip2, []byte{0x42, 0x5A, 0x68}},               // "BZh"
	{CompressionXZ, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},     // 0xFD "7zXZ\0"
	{CompressionZstd, []byte{0x28, 0xB5, 0x2F, 0xFD}},
	{CompressionLZ4, []byte{0x04, 0x22, 0x4D, 0x18}},
	{CompressionLzip, []byte{'L', 'Z', 'I', 'P'}},
	{CompressionCompress, []byte{0x1F, 0x9D}},
	{CompressionGzip, []byte{0x1F, 0x8B}},
}

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// ustarMagicOffset is where the "ustar" confirmation magic lives inside a
// tar header block.
const ustarMagicOffset = 257

// Sniff reads up to defaultSniffBytes from r to classify the body by magic
// number, returning the Result plus a new Reader that replays the sniffed
// bytes followed by the rest of r — the caller never loses data peeked
// during detection.
func Sniff(r io.Reader) (Result, io.Reader, error) {
	head := make([]byte, defaultSniffBytes)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{}, nil, err
	}
	head = head[:n]
	replay := io.MultiReader(bytes.NewReader(head), r)

	var result Result
	if bytes.HasPrefix(head, zipMagic) {
		result.Container = ContainerZip
		result.addReason(ConfidenceMedium, "zip local-file magic number")
		return result, replay, nil
	}

	for _, m := range magicChecks {
		if bytes.HasPrefix(head, m.magic) {
			result.Compression = m.compression
			result.addReason(ConfidenceMedium, string(m.compression)+" magic number")
			switch m.compression {
			case CompressionGzip:
				confirmGzipTar(&result, head)
			case CompressionBzip2:
				confirmTarByDecompressing(&result, bzip2.NewReader(bytes.NewReader(head)), "bzip2")
			case CompressionXZ:
				if xr, err := xz.NewReader(bytes.NewReader(head)); err == nil {
					confirmTarByDecompressing(&result, xr, "xz")
				}
			case CompressionZstd:
				if zr, err := zstd.NewReader(bytes.NewReader(head)); err == nil {
					confirmTarByDecompressing(&result, zr, "zstd")
					zr.Close()
				}
			case CompressionLZ4:
				confirmTarByDecompressing(&result, lz4.NewReader(bytes.NewReader(head)), "lz4")
			}
			return result, replay, nil
		}
	}

	// No compression magic matched; check for a bare (uncompressed) ustar
	// tar header directly.
	if len(head) > ustarMagicOffset+5 && bytes.Equal(head[ustarMagicOffset:ustarMagicOffset+5], []byte("ustar")) {
		result.Container = ContainerTar
		result.IsTarballLike = true
		result.addReason(ConfidenceHigh, "ustar magic at offset 257")
	}

	return result, replay, nil
}

// confirmGzipTar decompresses enough of a gzip stream to check for the
// "ustar" magic at offset 257 of the decompressed data, upgrading
// confidence to high when found. Decompression failures are swallowed:
// the gzip magic match alone still stands at medium confidence.
func confirmGzipTar(result *Result, head []byte) {
	zr, err := gzip.NewReader(bytes.NewReader(head))
	if err != nil {
		return
	}
	defer zr.Close()
	confirmTarByDecompressing(result, zr, "gzip")
}

// confirmTarByDecompressing decompresses enough of dr (already wrapping a
// sniffed byte prefix in the named compression) to check for the "ustar"
// magic at offset 257, upgrading confidence to high when found. A
// truncated or undecodeable prefix (unavoidable when only the first
// defaultSniffBytes are available) is not an error: the magic-number match
// alone still stands at medium confidence.
func confirmTarByDecompressing(result *Result, dr io.Reader, label string) {
	buf := make([]byte, ustarMagicOffset+8)
	n, _ := io.ReadFull(dr, buf)
	buf = buf[:n]
	if len(buf) > ustarMagicOffset+5 && bytes.Equal(buf[ustarMagicOffset:ustarMagicOffset+5], []byte("ustar")) {
		result.Container = ContainerTar
		result.IsTarballLike = true
		result.addReason(ConfidenceHigh, "ustar magic at offset 257 after "+label+" decompression")
	}
}
