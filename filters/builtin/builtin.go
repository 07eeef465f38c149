/*
Package builtin provides a small, generic set of response filters.
*/
package builtin

import (
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/filters/diag"
	"github.com/zalando/respipe/filters/flowid"
	"github.com/zalando/respipe/filters/ratelimit"
)

const (
	SetResponseHeaderName    = "setResponseHeader"
	AppendResponseHeaderName = "appendResponseHeader"
	DropResponseHeaderName   = "dropResponseHeader"
	StatusName               = "status"
	InlineContentName        = "inlineContent"
	CompressName             = "compress"
	EntityHeaderName         = "entityHeader"
)

// MakeRegistry returns a registry initialized with the builtin filters,
// including the flowid, the ratelimit and the diag packages.
func MakeRegistry() filters.Registry {
	return MakeRegistryWith(CompressOptions{})
}

// MakeRegistryWith returns the builtin registry, with the compress filter
// created with the provided options.
func MakeRegistryWith(co CompressOptions) filters.Registry {
	r := make(filters.Registry)
	for _, s := range []filters.Spec{
		NewSetResponseHeader(),
		NewAppendResponseHeader(),
		NewDropResponseHeader(),
		NewStatus(),
		NewInlineContent(),
		NewCompressWithOptions(co),
		NewEntityHeader(),
		flowid.New(),
		ratelimit.New(),
		diag.NewLatency(),
		diag.NewAbort(),
		diag.NewRandom(),
		diag.NewBandwidth(),
		diag.NewChunks(),
	} {
		r.Register(s)
	}

	return r
}
