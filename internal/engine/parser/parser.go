package parser

import (
	"hxindex/internal/core/errors"
	"hxindex/internal/shared/observability"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"
)

// Parser extracts handler definitions, import bindings and class tables from
// Python source. It never fails: unparseable input yields an empty SourceFile.
type Parser struct {
	pool *ParserPool
}

// New returns a Parser backed by the shared Python parser pool.
func New() *Parser {
	return &Parser{pool: defaultPool()}
}

// NewWithPool returns a Parser that leases from pool.
func NewWithPool(pool *ParserPool) *Parser {
	return &Parser{pool: pool}
}

// ParseSource parses in-memory Python text. path is recorded on every
// Definition as given.
func (p *Parser) ParseSource(path string, source []byte) *SourceFile {
	start := time.Now()
	defer func() {
		observability.ParsingDuration.WithLabelValues("python").Observe(time.Since(start).Seconds())
	}()

	file := newSourceFile(path)
	if !utf8.Valid(source) {
		p.fail(path, "invalid utf-8")
		return file
	}

	sp := p.pool.Get()
	defer p.pool.Put(sp)

	tree := sp.Parse(source, nil)
	if tree == nil {
		p.fail(path, "parser returned no tree")
		return file
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		p.fail(path, "syntax error")
		return file
	}

	ctx := &ExtractionContext{Source: source, File: file}
	(&pythonExtractor{}).Extract(ctx, root)
	return file
}

// ParseFile reads and parses a file from disk.
func (p *Parser) ParseFile(path string) *SourceFile {
	source, err := ReadSource(path)
	if err != nil {
		slog.Debug("python source unreadable", "path", path, "error", err)
		observability.ParseFailuresTotal.WithLabelValues("python").Inc()
		return newSourceFile(path)
	}
	return p.ParseSource(path, source)
}

func (p *Parser) fail(path, reason string) {
	slog.Debug("python parse degraded to empty result", "path", path, "reason", reason)
	observability.ParseFailuresTotal.WithLabelValues("python").Inc()
}

// ReadSource loads a file, reporting missing files as NOT_FOUND.
func ReadSource(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := errors.CodeInternal
		if os.IsNotExist(err) {
			code = errors.CodeNotFound
		}
		return nil, errors.AddContext(errors.Wrap(err, code, "read source"), errors.CtxPath, path)
	}
	return data, nil
}
