package spdy

import (
	"testing"

	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
	"github.com/yourusername/nbhttp/pkg/nbhttp/zdict"
)

func TestHeaderBlockRoundTrip(t *testing.T) {
	hdr := &message.Header{}
	hdr.Add("Content-Type", "text/plain")
	hdr.Add("X-Multi", "one")
	hdr.Add("X-Multi", "two")

	comp := zdict.NewCompressor()
	decomp := zdict.NewDecompressor()

	wire, err := EncodeHeaderBlock(hdr, comp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeHeaderBlock(wire, decomp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if v, _ := got.Get("content-type"); v != "text/plain" {
		t.Fatalf("content-type: got %q", v)
	}
	multi := got.Values("x-multi")
	if len(multi) != 2 || multi[0] != "one" || multi[1] != "two" {
		t.Fatalf("x-multi: got %v", multi)
	}
}

func TestHeaderBlockEmpty(t *testing.T) {
	hdr := &message.Header{}
	comp := zdict.NewCompressor()
	decomp := zdict.NewDecompressor()

	wire, err := EncodeHeaderBlock(hdr, comp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeHeaderBlock(wire, decomp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Len() != 0 {
		t.Fatalf("expected empty header set, got %d fields", got.Len())
	}
}
