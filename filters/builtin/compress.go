package builtin

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/response"
)

const (
	gzipEncoding    = "gzip"
	deflateEncoding = "deflate"
	brotliEncoding  = "br"
	zstdEncoding    = "zstd"

	defaultLevel = -1
)

type encoding struct {
	name  string
	q     float32
	order int
}

// CompressOptions configure the compress filter.
type CompressOptions struct {

	// Encodings lists the enabled encodings in the order of server
	// preference. It is used when the client accepts multiple encodings
	// with the same quality. Defaults to gzip, deflate, br, zstd.
	Encodings []string
}

type compress struct {
	mime      []string
	level     int
	encodings []string
}

var (
	supportedEncodings = []string{gzipEncoding, deflateEncoding, brotliEncoding, zstdEncoding}

	// ErrUnsupportedEncoding is returned when an unknown encoding is
	// configured.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

var defaultCompressMIME = []string{
	"text/plain",
	"text/html",
	"application/json",
	"application/yaml",
	"application/javascript",
	"application/x-javascript",
	"text/javascript",
	"text/css",
	"image/svg+xml",
	"application/octet-stream",
}

// SupportedEncodings returns the names of the encodings that the compress
// filter supports.
func SupportedEncodings() []string {
	return append([]string(nil), supportedEncodings...)
}

// NewCompress returns a filter specification that is used to compress the
// response entity, with the default options.
func NewCompress() filters.Spec { return NewCompressWithOptions(CompressOptions{}) }

// NewCompressWithOptions returns a filter specification that is used to
// compress the response entity.
//
// Example:
//
//	compress()
//
// The filter checks if the response entity can be compressed. To decide,
// it checks the Content-Encoding, the Cache-Control and the Content-Type
// headers. It doesn't compress the content if the Content-Encoding is set
// to other than identity, or the Cache-Control applies the no-transform
// pragma, or the Content-Type is set to an unsupported value.
//
// The default set of MIME types can be reset or extended by passing in the
// desired types as filter arguments. When extending the defaults, the first
// argument needs to be "...". E.g. to compress tiff in addition to the
// defaults:
//
//	compress("...", "image/tiff")
//
// The first argument can be a number, setting the compression level. Its
// meaning depends on the selected encoding, -1 selects the default level
// of the encoding:
//
//	compress(9, "text/html")
//
// The filter checks the Accept-Encoding header of the incoming request. It
// does not assume that the client accepts any encoding if the header is not
// set, and it ignores *.
//
// When compressing the response, it deletes the Content-Length header, sets
// the Content-Encoding to the selected encoding, and adds Accept-Encoding
// to the Vary header, if missing. The compression happens in a streaming
// way, wrapping the entity stream of the response.
func NewCompressWithOptions(o CompressOptions) filters.Spec {
	encs := o.Encodings
	if len(encs) == 0 {
		encs = supportedEncodings
	}

	return &compress{encodings: encs}
}

func (c *compress) Name() string {
	return CompressName
}

func (c *compress) CreateFilter(args []interface{}) (filters.Filter, error) {
	f := &compress{level: defaultLevel, encodings: c.encodings}
	for _, e := range f.encodings {
		if !stringsContain(supportedEncodings, e) {
			return nil, ErrUnsupportedEncoding
		}
	}

	if len(args) > 0 {
		if l, ok := args[0].(float64); ok {
			if l < -1 || l > 11 || float64(int(l)) != l {
				return nil, filters.ErrInvalidFilterParameters
			}

			f.level = int(l)
			args = args[1:]
		}
	}

	if len(args) == 0 {
		f.mime = defaultCompressMIME
		return f, nil
	}

	if args[0] == "..." {
		f.mime = append([]string(nil), defaultCompressMIME...)
		args = args[1:]
	}

	for _, a := range args {
		if s, ok := a.(string); ok {
			f.mime = append(f.mime, s)
		} else {
			return nil, filters.ErrInvalidFilterParameters
		}
	}

	return f, nil
}

func stringsContain(ss []string, s string, transform ...func(string) string) bool {
	for _, si := range ss {
		for _, t := range transform {
			si = t(si)
		}

		if si == s {
			return true
		}
	}

	return false
}

// entityMediaType returns the media type that the entity will be written
// with.
func entityMediaType(rsp filters.ResponseContext) string {
	if mt := rsp.MediaType(); mt != "" {
		return mt
	}

	switch rsp.Entity().(type) {
	case string:
		return "text/plain"
	case []byte, io.Reader:
		return "application/octet-stream"
	default:
		return "application/json"
	}
}

func canEncodeEntity(rsp filters.ResponseContext, mime []string) bool {
	if !rsp.HasEntity() {
		return false
	}

	if ce := rsp.HeaderString("Content-Encoding"); ce != "" && ce != "identity" /* forgiving for identity */ {
		return false
	}

	cc := strings.Split(rsp.HeaderString("Cache-Control"), ",")
	if stringsContain(cc, "no-transform", strings.TrimSpace, strings.ToLower) {
		return false
	}

	return stringsContain(mime, entityMediaType(rsp))
}

func (c *compress) acceptedEncoding(r *http.Request) string {
	if r == nil {
		return ""
	}

	var encs []*encoding
	for _, s := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		sp := strings.Split(s, ";")
		name := strings.ToLower(strings.TrimSpace(sp[0]))
		order := -1
		for i, e := range c.encodings {
			if e == name {
				order = i
				break
			}
		}

		if order < 0 {
			continue
		}

		enc := &encoding{name: name, q: 1, order: order}
		for _, spi := range sp[1:] {
			spi = strings.TrimSpace(spi)
			if !strings.HasPrefix(spi, "q=") {
				continue
			}

			q, err := strconv.ParseFloat(strings.TrimPrefix(spi, "q="), 32)
			if err != nil {
				continue
			}

			enc.q = float32(q)
			break
		}

		if enc.q > 0 {
			encs = append(encs, enc)
		}
	}

	if len(encs) == 0 {
		return ""
	}

	sort.SliceStable(encs, func(i, j int) bool {
		if encs[i].q != encs[j].q {
			return encs[i].q > encs[j].q
		}

		return encs[i].order < encs[j].order
	})

	return encs[0].name
}

func responseHeader(h *response.Header, enc string) {
	h.Del("Content-Length")
	h.Set("Content-Encoding", enc)

	if !stringsContain(h.StringHeader()["Vary"], "Accept-Encoding", http.CanonicalHeaderKey) {
		h.Add("Vary", "Accept-Encoding")
	}
}

func encoder(enc string, level int, w io.Writer) (io.WriteCloser, error) {
	switch enc {
	case gzipEncoding:
		if level > gzip.BestCompression {
			level = gzip.BestCompression
		}

		return gzip.NewWriterLevel(w, level)
	case deflateEncoding:
		if level > flate.BestCompression {
			level = flate.BestCompression
		}

		return flate.NewWriter(w, level)
	case brotliEncoding:
		if level < 0 {
			level = brotli.DefaultCompression
		}

		return brotli.NewWriterLevel(w, level), nil
	case zstdEncoding:
		var opts []zstd.EOption
		if level >= 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}

		return zstd.NewWriter(w, opts...)
	default:
		return nil, ErrUnsupportedEncoding
	}
}

func (c *compress) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	if !canEncodeEntity(rsp, c.mime) {
		return nil
	}

	enc := c.acceptedEncoding(req.Request())
	if enc == "" {
		return nil
	}

	w, err := encoder(enc, c.level, rsp.EntityStream())
	if err != nil {
		return err
	}

	responseHeader(rsp.Headers(), enc)
	rsp.SetEntityStream(w)
	return nil
}
