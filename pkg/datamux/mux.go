// Package datamux implements DataMux: a multi-dataset batch producer that
// pulls striped records from several DataSets, decodes their image
// payloads, rewrites labels into a shared global label space, and hands
// back uniformly shuffled training batches.
package datamux

import (
	"errors"
	"fmt"
	"image"
	"math/rand"

	"github.com/sirupsen/logrus"

	"striper/internal/errs"
	"striper/internal/iosched"
	"striper/internal/record"
	"striper/pkg/codec"
	"striper/pkg/dataset"
)

// Sample is one decoded, label-rewritten record handed back by Read.
type Sample struct {
	Meta  record.Meta
	Image image.Image
}

type source struct {
	path      string
	reader    *dataset.Reader
	labelBase int32
	batchSize int
}

// next returns the next record from the source. Because every source is
// opened in ReadRR|ReadLoop mode, this only returns an error for a genuine
// fault; the source itself never signals end of stream.
func (s *source) next() (record.Record, error) {
	rec, err := s.reader.Read()
	if err != nil {
		return record.Record{}, fmt.Errorf("striper: datamux source %s: %w", s.path, err)
	}
	return rec, nil
}

// Mux is an open DataMux. It is not safe for concurrent use.
type Mux struct {
	sources   []*source
	batchSize int
	decode    codec.Decoder
	rng       *rand.Rand
	sched     *iosched.Scheduler
	log       *logrus.Logger

	current []Sample
	cursor  int
	next    []Sample
	pending *iosched.Future

	closed bool
}

// Option configures a Mux at construction time.
type Option func(*Mux)

// WithLogger overrides the logger used for decode-skip diagnostics.
// Defaults to logrus.StandardLogger().
func WithLogger(log *logrus.Logger) Option {
	return func(m *Mux) { m.log = log }
}

// WithRand overrides the random source used to shuffle assembled batches.
// Defaults to a source seeded from a fixed seed, matching the reproducible
// seeding convention of pkg/dataset.
func WithRand(rng *rand.Rand) Option {
	return func(m *Mux) { m.rng = rng }
}

// Open reads configPath (see parseConfig) and opens each listed dataset in
// ReadRR|ReadLoop mode, the one read mode whose streams never run dry, so
// a source can satisfy any number of batches. decode is the image codec
// boundary DataMux calls on every record's Image payload.
func Open(configPath string, decode codec.Decoder, opts ...Option) (*Mux, error) {
	configs, err := parseConfig(configPath)
	if err != nil {
		return nil, err
	}
	sched, err := iosched.Acquire()
	if err != nil {
		return nil, err
	}

	m := &Mux{
		decode: decode,
		rng:    rand.New(rand.NewSource(1)),
		sched:  sched,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, sc := range configs {
		reader, err := dataset.Open(sc.Path, dataset.ReadRR|dataset.ReadLoop)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.sources = append(m.sources, &source{
			path:      sc.Path,
			reader:    reader,
			labelBase: sc.LabelBase,
			batchSize: sc.BatchSize,
		})
		m.batchSize += sc.BatchSize
	}

	m.pending = sched.Schedule(sched.CPUDevice(), m.buildBatch)
	return m, nil
}

// buildBatch runs on the CPU pseudo-device. It pulls batchSize records from
// each source in turn, decodes and label-rewrites each, skipping and
// re-pulling on a DecodeError, then shuffles the assembled batch.
func (m *Mux) buildBatch() error {
	batch := make([]Sample, 0, m.batchSize)
	for _, s := range m.sources {
		for i := 0; i < s.batchSize; i++ {
			for {
				rec, err := s.next()
				if err != nil {
					return err
				}
				img, err := m.decode(rec.Image)
				if err != nil {
					decErr := &errs.DecodeError{Err: err}
					m.log.WithFields(logrus.Fields{
						"source": s.path,
						"serial": rec.Meta.Serial,
						"error":  decErr,
					}).Warn("striper: datamux skipping record with decode error")
					continue
				}
				batch = append(batch, Sample{
					Meta: record.Meta{
						Label:  rec.Meta.Label + s.labelBase,
						Serial: rec.Meta.Serial,
					},
					Image: img,
				})
				break
			}
		}
	}
	m.rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
	m.next = batch
	return nil
}

// Read awaits the in-flight prefetch when the current batch is exhausted,
// swaps it in, schedules the next prefetch, and returns the next Sample.
func (m *Mux) Read() (Sample, error) {
	if m.cursor >= len(m.current) {
		if err := m.pending.Wait(); err != nil {
			return Sample{}, err
		}
		m.current, m.next = m.next, nil
		m.cursor = 0
		m.pending = m.sched.Schedule(m.sched.CPUDevice(), m.buildBatch)
	}
	s := m.current[m.cursor]
	m.cursor++
	return s, nil
}

// Close waits for any outstanding prefetch, closes every source's Reader,
// and releases the scheduler reference.
func (m *Mux) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var closeErrs []error
	if m.pending != nil {
		if err := m.pending.Wait(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("striper: awaiting batch prefetch: %w", err))
		}
	}
	for _, s := range m.sources {
		if err := s.reader.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("striper: closing source %s: %w", s.path, err))
		}
	}
	iosched.Release()
	return errors.Join(closeErrs...)
}
