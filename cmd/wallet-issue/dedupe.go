package main

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	maxUserLen    = 128
	maxCodeLen    = 64
)

// grant is one "user,code" line of an issuance file.
type grant struct {
	user string
	code string
}

func (g grant) key() string { return g.user + "\x00" + g.code }

// parseGrant parses a "user,code" line. Codes are matched upper-cased.
func parseGrant(line string) (grant, bool) {
	user, code, ok := strings.Cut(line, ",")
	if !ok {
		return grant{}, false
	}
	user = strings.TrimSpace(user)
	code = strings.ToUpper(strings.TrimSpace(code))
	if user == "" || code == "" || len(user) > maxUserLen || len(code) > maxCodeLen {
		return grant{}, false
	}
	if strings.ContainsAny(code, " ,") {
		return grant{}, false
	}
	return grant{user: user, code: code}, true
}

// fileScan is the pass 2 result of one file.
type fileScan struct {
	// unique grants seen in no earlier file.
	unique []grant
	// suspects hit an earlier file's filter and need an exact check.
	suspects []grant
	// shared holds grants of this file that a later file's filter also
	// reports, so suspects of later files can be confirmed exactly.
	shared    map[string]struct{}
	lines     uint64
	malformed uint64
}

// stats summarises a dedupe run.
type stats struct {
	Lines      uint64
	Malformed  uint64
	Duplicates uint64
	Unique     int
}

// dedupe returns every distinct grant across files, in file order. Each
// grant is attributed to the first file that contains it.
func dedupe(ctx context.Context, lg *zap.Logger, files []string, capacity uint) ([]grant, stats, error) {
	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildFilters(ctx, lg, files, capacity)
	if err != nil {
		return nil, stats{}, errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: scanning for cross-file duplicates")
	scans := make([]fileScan, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			s, err := scanFile(gctx, lg, i, f, filters)
			if err != nil {
				return errors.Wrapf(err, "scan file %d", i+1)
			}
			scans[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats{}, err
	}

	var (
		out []grant
		st  stats
	)
	for i, s := range scans {
		st.Lines += s.lines
		st.Malformed += s.malformed
		out = append(out, s.unique...)
		for _, c := range s.suspects {
			if seenEarlier(scans[:i], c.key()) {
				st.Duplicates++
				continue
			}
			out = append(out, c)
		}
	}
	st.Unique = len(out)
	lg.Info("Dedupe complete",
		zap.Uint64("lines", st.Lines),
		zap.Uint64("malformed", st.Malformed),
		zap.Uint64("duplicates", st.Duplicates),
		zap.Int("unique", st.Unique),
	)
	return out, st, nil
}

func seenEarlier(earlier []fileScan, key string) bool {
	for _, s := range earlier {
		if _, ok := s.shared[key]; ok {
			return true
		}
	}
	return false
}

// buildFilters creates one bloom filter per file, concurrently.
func buildFilters(ctx context.Context, lg *zap.Logger, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64
			if err := streamGzFile(ctx, path, func(line string) {
				gr, ok := parseGrant(line)
				if !ok {
					return
				}
				filter.AddString(gr.key())
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.Int("file", i+1), zap.Uint64("grants", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			lg.Info("Pass 1 complete", zap.Int("file", i+1), zap.Uint64("grants", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func scanFile(ctx context.Context, lg *zap.Logger, idx int, path string, filters []*bloom.BloomFilter) (fileScan, error) {
	s := fileScan{shared: make(map[string]struct{})}
	seen := make(map[string]struct{})

	err := streamGzFile(ctx, path, func(line string) {
		s.lines++
		if s.lines%progressEvery == 0 {
			lg.Info("Pass 2 progress", zap.Int("file", idx+1), zap.Uint64("lines", s.lines))
		}
		gr, ok := parseGrant(line)
		if !ok {
			s.malformed++
			return
		}
		key := gr.key()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		for _, f := range filters[idx+1:] {
			if f.TestString(key) {
				s.shared[key] = struct{}{}
				break
			}
		}
		for _, f := range filters[:idx] {
			if f.TestString(key) {
				s.suspects = append(s.suspects, gr)
				return
			}
		}
		s.unique = append(s.unique, gr)
	})
	if err != nil {
		return fileScan{}, err
	}

	lg.Info("Pass 2 complete",
		zap.Int("file", idx+1),
		zap.Uint64("lines", s.lines),
		zap.Int("unique", len(s.unique)),
		zap.Int("suspects", len(s.suspects)),
	)
	return s, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
