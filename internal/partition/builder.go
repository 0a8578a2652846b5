package partition

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neetlogiq/datapack/internal/codec"
	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/internal/storage"
	"github.com/neetlogiq/datapack/internal/wire"
	"github.com/neetlogiq/datapack/pkg/types"
)

// BuilderConfig controls chunk materialization.
type BuilderConfig struct {
	// Concurrency bounds parallel chunk encoding (default 4).
	Concurrency int

	// UploadConcurrency bounds parallel chunk uploads (default 20).
	UploadConcurrency int

	// Filters lists the precomputed filter chunks to write.
	Filters []FilterSpec
}

// Builder writes the chunks described by a manifest, then the manifest.
type Builder struct {
	store storage.ChunkStore
	cfg   BuilderConfig
	settings
}

// NewBuilder creates a builder that publishes into store.
func NewBuilder(store storage.ChunkStore, cfg BuilderConfig, opts ...Option) *Builder {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Builder{store: store, cfg: cfg, settings: newSettings(opts)}
}

type encoded struct {
	desc manifest.PartitionDescriptor
	data []byte
}

// Build encodes, compresses and checksums every partition, measuring the
// real compressed size against the manifest ceiling. A multi-round chunk
// that overflows is split into two halves by round and retried; a
// single-round overflow is flagged infeasible and fails the build before
// anything is published. The manifest is written last, so readers never see
// a manifest whose chunks are missing.
func (b *Builder) Build(ctx context.Context, m *manifest.Manifest, src RecordSource) (*manifest.Manifest, error) {
	if err := CheckFeasible(m); err != nil {
		return nil, err
	}
	out := m.Clone()
	c, err := codec.Lookup(out.Codec)
	if err != nil {
		return nil, dperrors.NewManifestError(dperrors.CodeInvalidManifest, "manifest codec", err)
	}

	results := make([][]encoded, len(out.Partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, d := range out.Partitions {
		g.Go(func() error {
			records, err := src.Records(gctx, Query{Kind: d.RecordKind, Category: d.Category, Year: d.Year, Rounds: d.Rounds})
			if err != nil {
				return fmt.Errorf("partition: read records for %s: %w", d.Filename, err)
			}
			parts, err := b.encode(d, records, c, out.MaxChunkSize)
			if err != nil {
				return fmt.Errorf("partition: encode %s: %w", d.Filename, err)
			}
			results[i] = parts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []storage.UploadItem
	out.Partitions = out.Partitions[:0]
	for _, parts := range results {
		for _, e := range parts {
			out.Partitions = append(out.Partitions, e.desc)
			if e.data != nil {
				items = append(items, storage.UploadItem{Name: e.desc.Filename, Data: e.data})
			}
		}
	}

	filters, filterItems, err := b.buildFilters(ctx, c, src, out.MaxChunkSize)
	if err != nil {
		return nil, err
	}
	out.Precomputed = filters
	items = append(items, filterItems...)

	out.RecomputeSummaries()
	if err := CheckFeasible(out); err != nil {
		return out, err
	}
	if err := out.Validate(); err != nil {
		return nil, dperrors.NewInternalError("builder produced an invalid manifest", err)
	}

	if err := b.publish(ctx, out, items); err != nil {
		return nil, err
	}
	return out, nil
}

// encode compresses records into one chunk, splitting by round on overflow.
func (b *Builder) encode(d manifest.PartitionDescriptor, records []types.Record, c codec.Codec, maxChunk int64) ([]encoded, error) {
	raw, err := wire.EncodeChunk(d.RecordKind, records)
	if err != nil {
		return nil, err
	}
	data, err := codec.Compress(c, raw)
	if err != nil {
		return nil, err
	}
	d.RecordCount = int64(len(records))
	d.CompressedSizeBytes = int64(len(data))

	if int64(len(data)) <= maxChunk {
		d.Checksum = manifest.Checksum(data)
		return []encoded{{desc: d, data: data}}, nil
	}

	if len(d.Rounds) < 2 {
		b.logger.Warn("partition: single round exceeds chunk ceiling after compression",
			zap.String("chunk", d.Filename),
			zap.String("compressed", humanize.Bytes(uint64(len(data)))),
			zap.String("ceiling", humanize.Bytes(uint64(maxChunk))))
		d.Feasible = false
		return []encoded{{desc: d}}, nil
	}

	mid := len(d.Rounds) / 2
	b.logger.Info("partition: re-splitting oversize chunk",
		zap.String("chunk", d.Filename),
		zap.String("compressed", humanize.Bytes(uint64(len(data)))),
		zap.Ints("left", d.Rounds[:mid]),
		zap.Ints("right", d.Rounds[mid:]))

	var out []encoded
	for _, half := range [][]int{d.Rounds[:mid], d.Rounds[mid:]} {
		sub := d
		sub.Rounds = slices.Clone(half)
		sub.Checksum = ""
		sub.CompressedSizeBytes = 0

		var subRecords []types.Record
		for _, r := range records {
			if _, round := types.YearRound(r); slices.Contains(half, round) {
				subRecords = append(subRecords, r)
			}
		}
		if len(records) > 0 {
			sub.EstimatedSizeBytes = d.EstimatedSizeBytes * int64(len(subRecords)) / int64(len(records))
		}
		sub.Filename = naming.ChunkName(sub.Key(), c.Suffix())

		parts, err := b.encode(sub, subRecords, c, maxChunk)
		if err != nil {
			return nil, err
		}
		out = append(out, parts...)
	}
	return out, nil
}

func (b *Builder) buildFilters(ctx context.Context, c codec.Codec, src RecordSource, maxChunk int64) ([]manifest.PrecomputedFilter, []storage.UploadItem, error) {
	var (
		filters []manifest.PrecomputedFilter
		items   []storage.UploadItem
	)
	for _, spec := range b.cfg.Filters {
		records, err := src.Records(ctx, Query{Kind: spec.Kind, Category: spec.Category})
		if err != nil {
			return nil, nil, fmt.Errorf("partition: read records for filter %s: %w", spec.FilterKey, err)
		}
		var matched []types.Record
		for _, r := range records {
			if spec.Matches(r) {
				matched = append(matched, r)
			}
		}

		raw, err := wire.EncodeChunk(spec.Kind, matched)
		if err != nil {
			return nil, nil, err
		}
		data, err := codec.Compress(c, raw)
		if err != nil {
			return nil, nil, err
		}
		name := naming.FilterName(spec.Kind, spec.Category, spec.FilterKey, c.Suffix())
		if int64(len(data)) > maxChunk {
			b.logger.Warn("partition: skipping oversize precomputed filter",
				zap.String("chunk", name), zap.String("compressed", humanize.Bytes(uint64(len(data)))))
			continue
		}

		filters = append(filters, manifest.PrecomputedFilter{
			Filename:    name,
			RecordKind:  spec.Kind,
			Category:    spec.Category,
			SubCategory: spec.SubCategory,
			Quota:       spec.Quota,
			Boundary:    spec.Boundary,
			RecordCount: int64(len(matched)),
			Checksum:    manifest.Checksum(data),
		})
		items = append(items, storage.UploadItem{Name: name, Data: data})
	}
	return filters, items, nil
}

// publish uploads every chunk and then the manifest. Any chunk failure
// withholds the manifest.
func (b *Builder) publish(ctx context.Context, m *manifest.Manifest, items []storage.UploadItem) error {
	res, err := storage.NewBatchUploader(b.store, b.cfg.UploadConcurrency).Upload(ctx, items)
	if err != nil {
		return dperrors.NewStorageError(dperrors.CodeUploadFailed, "upload chunks", err)
	}
	if len(res.Errors) > 0 {
		names := make([]string, 0, len(res.Errors))
		for name := range res.Errors {
			names = append(names, name)
		}
		sort.Strings(names)
		var errs error
		for _, name := range names {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, res.Errors[name]))
		}
		return dperrors.NewStorageError(dperrors.CodeUploadFailed,
			fmt.Sprintf("%d of %d chunks failed to upload", len(res.Errors), len(items)), errs)
	}

	data, err := manifest.Marshal(m)
	if err != nil {
		return err
	}
	if err := b.store.Put(ctx, naming.ManifestName, data); err != nil {
		return dperrors.NewStorageError(dperrors.CodeUploadFailed, "publish manifest", err)
	}

	b.logger.Info("partition: build published",
		zap.String("version", m.Version),
		zap.Int("chunks", len(res.Uploaded)),
		zap.String("bytes", humanize.Bytes(uint64(res.Bytes))),
		zap.Int("precomputed", len(m.Precomputed)))
	return nil
}
