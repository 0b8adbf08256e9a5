package depcache

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// Download returns the handle of a cache that mirrors def.URI() into a file
// using the engine's fetcher. The URI is a parameter of the fingerprint, so
// changing it invalidates the artifact; set a Period to pick up remote
// changes at a fixed URI.
func (e *Engine) Download(def DownloadCache) *Binary {
	return &Binary{handle{
		engine:      e,
		kind:        kindDownload,
		def:         def,
		newProducer: func() producer { return downloadProducer{def: def} },
	}}
}

type downloadProducer struct {
	def DownloadCache
}

func (downloadProducer) persistent() bool { return true }

func (p downloadProducer) link(ctx context.Context) error {
	Param(ctx, "uri", p.def.URI)

	if l, ok := p.def.(Linker); ok {
		return l.Link(ctx)
	}

	return nil
}

func (p downloadProducer) produce(ctx context.Context, ent *entry, a *attempt) (content, error) {
	uri := Param(ctx, "uri", p.def.URI)

	return stage(ctx, ent, a, func(path string) error {
		body, err := ent.engine.fetcher.Open(ctx, uri)
		if err != nil {
			return err
		}
		defer body.Close()

		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}

		_, err = io.Copy(io.MultiWriter(f, &byteCounter{ctx: ctx}), body)
		if err != nil {
			_ = f.Close()

			return fmt.Errorf("download %s: %w", uri, err)
		}

		err = f.Close()
		if err != nil {
			return fmt.Errorf("close output: %w", err)
		}

		return nil
	})
}

// byteCounter reports the bytes downloaded so far as the attempt milestone.
type byteCounter struct {
	ctx context.Context //nolint:containedctx // reporting target
	n   uint64
}

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += uint64(len(p))
	ReportProgress(c.ctx, "%s", humanize.Bytes(c.n))

	return len(p), nil
}
