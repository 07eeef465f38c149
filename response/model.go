/*
Package response implements the in-progress representation of an outgoing
HTTP response, as it is seen and modified by the response filters.

The model holds the status, the typed headers, the entity and the metadata
needed to serialize the entity. It does not hold the output stream, that
belongs to the transport.
*/
package response

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusInfo combines a status code with its reason phrase.
type StatusInfo struct {
	Code   int
	Reason string
}

// Annotations carry serialization hints attached to the entity, e.g. the
// name of a view or a schema.
type Annotations map[string]interface{}

// Model is the mutable response under construction. It is not safe for
// concurrent use, the pipeline makes sure that only one filter accesses it
// at a time.
type Model struct {
	status      StatusInfo
	header      *Header
	entity      interface{}
	hasEntity   bool
	annotations Annotations
}

// NewModel creates a response model with the provided status and entity. A
// zero status defaults to 200 OK. A nil entity means that the response has
// no entity.
func NewModel(status int, entity interface{}) *Model {
	m := &Model{header: NewHeader()}
	if status == 0 {
		status = http.StatusOK
	}

	m.SetStatus(status)
	if entity != nil {
		m.entity = entity
		m.hasEntity = true
	}

	return m
}

func (m *Model) Status() int { return m.status.Code }

// SetStatus sets the status code and the default reason phrase of the code.
func (m *Model) SetStatus(code int) {
	m.status = StatusInfo{Code: code, Reason: http.StatusText(code)}
}

func (m *Model) StatusInfo() StatusInfo { return m.status }

// SetStatusInfo sets the status code and the reason phrase. When the reason
// is empty, the default reason phrase of the code is used.
func (m *Model) SetStatusInfo(s StatusInfo) {
	if s.Reason == "" {
		s.Reason = http.StatusText(s.Code)
	}

	m.status = s
}

func (m *Model) Entity() interface{} { return m.entity }
func (m *Model) HasEntity() bool     { return m.hasEntity }

// SetEntity replaces the entity. Any Content-Length header is removed,
// because the length of the previous entity is not valid anymore.
func (m *Model) SetEntity(entity interface{}) {
	m.entity = entity
	m.hasEntity = entity != nil
	m.header.Del("Content-Length")
}

// SetEntityWithType replaces the entity together with its annotations and
// media type. Like SetEntity, it removes the Content-Length header.
func (m *Model) SetEntityWithType(entity interface{}, annotations Annotations, mediaType string) {
	m.SetEntity(entity)
	m.annotations = annotations
	if mediaType == "" {
		m.header.Del("Content-Type")
		return
	}

	m.header.Set("Content-Type", mediaType)
}

func (m *Model) Annotations() Annotations { return m.annotations }

// Headers returns the typed header map. Modifications are visible to the
// subsequent filters and to the final delivery.
func (m *Model) Headers() *Header { return m.header }

// StringHeaders returns the header map rendered to strings.
func (m *Model) StringHeaders() http.Header { return m.header.StringHeader() }

// HeaderString returns the rendered values of a header, joined by comma.
func (m *Model) HeaderString(name string) string { return m.header.String(name) }

// MediaType returns the media type of the entity, without parameters.
func (m *Model) MediaType() string {
	ct := m.header.String("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}

	return strings.TrimSpace(ct)
}

// Length returns the value of the Content-Length header, or -1 when it is
// not set or invalid.
func (m *Model) Length() int64 {
	s := m.header.String("Content-Length")
	if s == "" {
		return -1
	}

	l, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}

	return l
}

func (m *Model) timeHeader(name string) time.Time {
	switch v := m.header.Get(name).(type) {
	case time.Time:
		return v
	case string:
		t, err := http.ParseTime(v)
		if err != nil {
			return time.Time{}
		}

		return t
	default:
		return time.Time{}
	}
}

func (m *Model) Date() time.Time         { return m.timeHeader("Date") }
func (m *Model) LastModified() time.Time { return m.timeHeader("Last-Modified") }
func (m *Model) Language() string        { return m.header.String("Content-Language") }
func (m *Model) EntityTag() string       { return m.header.String("ETag") }

// Location returns the parsed Location header or nil.
func (m *Model) Location() *url.URL {
	switch v := m.header.Get("Location").(type) {
	case *url.URL:
		return v
	case string:
		u, err := url.Parse(v)
		if err != nil {
			return nil
		}

		return u
	default:
		return nil
	}
}

// AllowedMethods returns the methods listed in the Allow header, upper
// cased.
func (m *Model) AllowedMethods() []string {
	var methods []string
	for _, v := range m.header.Values("Allow") {
		for _, mi := range strings.Split(RenderValue(v), ",") {
			if mi = strings.TrimSpace(mi); mi != "" {
				methods = append(methods, strings.ToUpper(mi))
			}
		}
	}

	return methods
}

// Cookies returns the cookies set by the Set-Cookie headers, keyed by name.
func (m *Model) Cookies() map[string]*http.Cookie {
	rsp := &http.Response{Header: http.Header{"Set-Cookie": m.StringHeaders()["Set-Cookie"]}}
	cookies := make(map[string]*http.Cookie)
	for _, c := range rsp.Cookies() {
		cookies[c.Name] = c
	}

	return cookies
}

// Links returns the links of the Link headers. The values can be set as
// *Link, or as strings in the Link header format.
func (m *Model) Links() []*Link {
	var links []*Link
	for _, v := range m.header.Values("Link") {
		if l, ok := v.(*Link); ok {
			links = append(links, l)
			continue
		}

		links = append(links, ParseLinks(RenderValue(v))...)
	}

	return links
}

// HasLink tells whether a link with the relation type exists.
func (m *Model) HasLink(rel string) bool {
	return m.Link(rel) != nil
}

// Link returns the first link with the relation type, or nil.
func (m *Model) Link(rel string) *Link {
	for _, l := range m.Links() {
		if l.HasRel(rel) {
			return l
		}
	}

	return nil
}
