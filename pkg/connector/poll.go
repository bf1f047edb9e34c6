package connector

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/completion"
	"github.com/yarkm13/ftpclient/pkg/expression"
	"github.com/yarkm13/ftpclient/pkg/metrics"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

// PollRequest selects the files a poll cycle picks up.
type PollRequest struct {
	// Name labels log entries and metrics. Defaults to Directory.
	Name      string
	Directory string
	// Pattern must match the whole file name. Empty matches everything.
	Pattern string
	// TranslatedName, when set and non-blank for a file, names a second
	// file in the same directory that is read instead of the matched one.
	TranslatedName expression.Expression
	DeleteAfterGet bool
	// Streaming hands the open stream to the handler instead of the
	// fully read content.
	Streaming bool
}

func (r PollRequest) name() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Directory != "" {
		return r.Directory
	}
	return "."
}

// Message is one polled file. Exactly one of Stream and Data is set,
// depending on PollRequest.Streaming. Closing Stream runs the completion
// strategy and releases the session; handlers must close it.
type Message struct {
	Properties expression.Properties
	Stream     io.ReadCloser
	Data       []byte
}

// Handler processes a polled file. Returning an error aborts the cycle.
type Handler func(ctx context.Context, msg *Message) error

// Poll runs one poll cycle and deletes picked up files afterwards when
// DeleteAfterGet is set.
func (c *Connector) Poll(ctx context.Context, req PollRequest, handler Handler) {
	c.PollWith(ctx, completion.DeleteOrNothing(req.DeleteAfterGet), req, handler)
}

// PollWithArchivingByMovingToDirectory runs one poll cycle and moves picked
// up files into moveToDirectory, relative to the polled directory unless
// absolute. With DeleteAfterGet the matched file is deleted instead when a
// different translated file was read.
func (c *Connector) PollWithArchivingByMovingToDirectory(ctx context.Context, req PollRequest, moveToDirectory string, handler Handler) {
	c.PollWith(ctx, completion.ArchiveToDirectory(req.DeleteAfterGet, strings.TrimSpace(moveToDirectory)), req, handler)
}

// PollWithArchivingByRenaming runs one poll cycle and renames the read file
// with filenameExpr and the matched file with originalFilenameExpr. A blank
// result deletes the file.
func (c *Connector) PollWithArchivingByRenaming(ctx context.Context, req PollRequest, filenameExpr, originalFilenameExpr expression.Expression, handler Handler) {
	c.PollWith(ctx, completion.RenameWith(filenameExpr, originalFilenameExpr), req, handler)
}

// PollWith runs one poll cycle with the given completion strategy. Errors are
// logged and end the cycle; they are never returned.
func (c *Connector) PollWith(ctx context.Context, strategy completion.Strategy, req PollRequest, handler Handler) {
	name := req.name()
	log := c.log.With(zap.String("poll", name), zap.String("directory", req.Directory))

	pattern, err := compilePattern(req.Pattern)
	if err != nil {
		log.Error("failure in polling: invalid pattern", zap.Error(err))
		metrics.PollCycles.WithLabelValues(name, "failed").Inc()
		return
	}

	all, err := c.List(ctx, req.Directory)
	if err != nil {
		log.Error("failure in polling: list files failed", zap.Error(err))
		metrics.PollCycles.WithLabelValues(name, "failed").Inc()
		return
	}
	log.Debug("listed directory", zap.Int("files", len(all)))

	sizes := make(map[string]int64, len(all))
	var matched []remotefs.RemoteFile
	for _, f := range all {
		if !f.IsFile() {
			log.Debug("skip: not a regular file", zap.Stringer("file", f))
			continue
		}
		sizes[f.Name()] = f.Size()
		if pattern.MatchString(f.Name()) {
			matched = append(matched, f)
		} else {
			log.Debug("skip: name does not match pattern", zap.Stringer("file", f), zap.String("pattern", req.Pattern))
		}
	}

	for _, f := range matched {
		if err := ctx.Err(); err != nil {
			log.Info("poll cycle cancelled", zap.Error(err))
			metrics.PollCycles.WithLabelValues(name, "cancelled").Inc()
			return
		}
		delivered, err := c.handleFile(ctx, strategy, req, sizes, f, handler, log)
		if err != nil {
			log.Error("failure in polling", zap.Stringer("file", f), zap.Error(err))
			metrics.PolledFiles.WithLabelValues(name, "failed").Inc()
			metrics.PollCycles.WithLabelValues(name, "failed").Inc()
			return
		}
		if delivered {
			metrics.PolledFiles.WithLabelValues(name, "delivered").Inc()
		} else {
			metrics.PolledFiles.WithLabelValues(name, "skipped").Inc()
		}
	}
	metrics.PollCycles.WithLabelValues(name, "completed").Inc()
}

func (c *Connector) handleFile(ctx context.Context, strategy completion.Strategy, req PollRequest,
	sizes map[string]int64, f remotefs.RemoteFile, handler Handler, log *zap.Logger) (bool, error) {
	props := expression.Properties{
		OriginalFilename: f.Name(),
		Filename:         f.Name(),
		FileSize:         f.Size(),
	}
	if ts, ok := f.Timestamp(); ok {
		props.Timestamp = ts
	}

	translated, err := translate(req.TranslatedName, props)
	if err != nil {
		return false, err
	}
	if translated != f.Name() {
		size, ok := sizes[translated]
		if !ok {
			log.Warn("translated file does not exist", zap.String("file", f.Name()), zap.String("translated", translated))
			return false, nil
		}
		props.FileSize = size
		props.Filename = translated
	}

	onClose, err := strategy.Handler(props, f.Name(), translated)
	if err != nil {
		return false, err
	}

	// a download that failed midway must not be archived or deleted
	var readFailed atomic.Bool
	stream, err := c.openReader(ctx, req.Directory, translated, onClose, readFailed.Load)
	if err != nil {
		return false, err
	}
	msg := &Message{Properties: props}
	if req.Streaming {
		msg.Stream = stream
	} else {
		data, err := io.ReadAll(stream)
		if err != nil {
			readFailed.Store(true)
		}
		if cerr := stream.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return false, fmt.Errorf("read %s: %w", translated, err)
		}
		msg.Data = data
	}

	if err := callHandler(ctx, handler, msg); err != nil {
		if msg.Stream != nil {
			_ = msg.Stream.Close()
		}
		return false, err
	}
	return true, nil
}

func callHandler(ctx context.Context, handler Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func translate(e expression.Expression, props expression.Properties) (string, error) {
	if e == nil {
		return props.OriginalFilename, nil
	}
	result, err := e.Evaluate(props)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(result) == "" {
		return props.OriginalFilename, nil
	}
	return result, nil
}

// compilePattern anchors pattern so it must match a whole file name.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return re, nil
}
