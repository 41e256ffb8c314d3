// Package vips is the libvips image engine. It is compiled only with the
// "vips" build tag (and cgo); without the tag importing the package is a
// no-op and the probe falls through to the next engine.
//
//	go build -tags vips ./cmd/server
package vips
