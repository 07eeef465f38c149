package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/multierr"
	"sigs.k8s.io/yaml"

	"github.com/zalando/respipe/transport"
)

type entityView interface {
	Status() int
	StringHeaders() http.Header
	Entity() interface{}
	HasEntity() bool
	MediaType() string
}

func encodeEntity(entity interface{}, mediaType string) (io.Reader, string, error) {
	switch e := entity.(type) {
	case string:
		if mediaType == "" {
			mediaType = "text/plain; charset=utf-8"
		}

		return strings.NewReader(e), mediaType, nil
	case []byte:
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}

		return bytes.NewReader(e), mediaType, nil
	case io.Reader:
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}

		return e, mediaType, nil
	}

	base := mediaType
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		base = mt
	}

	var (
		b   []byte
		err error
	)

	switch base {
	case "", "application/json":
		if mediaType == "" {
			mediaType = "application/json"
		}

		b, err = json.Marshal(entity)
	case "application/yaml", "application/x-yaml", "text/yaml":
		b, err = yaml.Marshal(entity)
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}

	if err != nil {
		return nil, "", err
	}

	return bytes.NewReader(b), mediaType, nil
}

// writeEntity writes the status, the headers and the entity to the
// transport response. When the output stream was replaced with one that
// needs closing, e.g. a compressing writer, it is closed at the end.
func writeEntity(v entityView, rsp transport.Response) (err error) {
	var (
		body      io.Reader
		mediaType string
	)

	if v.HasEntity() {
		body, mediaType, err = encodeEntity(v.Entity(), v.MediaType())
		if err != nil {
			return err
		}

		if c, ok := body.(io.Closer); ok {
			defer func() { err = multierr.Append(err, c.Close()) }()
		}
	}

	h := rsp.Header()
	for k, vs := range v.StringHeaders() {
		h[k] = vs
	}

	if body != nil && h.Get("Content-Type") == "" {
		h.Set("Content-Type", mediaType)
	}

	rsp.SetStatus(v.Status())

	w := rsp.OutputStream()
	if c, ok := w.(io.Closer); ok {
		defer func() { err = multierr.Append(err, c.Close()) }()
	}

	if body == nil {
		return nil
	}

	_, err = io.Copy(w, body)
	return err
}
