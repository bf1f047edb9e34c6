// Package completion decides what happens to a polled file once its read
// stream has been closed.
package completion

import (
	"strings"

	"go.uber.org/zap"

	"github.com/yarkm13/ftpclient/pkg/expression"
	"github.com/yarkm13/ftpclient/pkg/logger"
	"github.com/yarkm13/ftpclient/pkg/metrics"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

// Strategy builds the close hook for one polled file. filename is the file
// that matched the poll, translatedName the file actually read. Both live in
// the working directory the session is in when the hook runs.
type Strategy interface {
	Handler(props expression.Properties, filename, translatedName string) (remotefs.CloseFunc, error)
}

type deleteOrNothing struct {
	deleteAfterGet bool
	log            *zap.Logger
}

// DeleteOrNothing deletes the matched and translated files after reading
// when deleteAfterGet is set and leaves them alone otherwise.
func DeleteOrNothing(deleteAfterGet bool) Strategy {
	return &deleteOrNothing{deleteAfterGet: deleteAfterGet, log: logger.WithModule("completion")}
}

func (d *deleteOrNothing) Handler(_ expression.Properties, filename, translatedName string) (remotefs.CloseFunc, error) {
	if !d.deleteAfterGet {
		return func(remotefs.Session) {}, nil
	}
	files := []string{filename}
	if translatedName != filename {
		files = append(files, translatedName)
	}
	return func(s remotefs.Session) {
		dir := s.CurrentDirectory()
		for _, f := range files {
			if err := s.Delete(dir, f); err != nil {
				d.log.Warn("could not delete file",
					zap.String("session", s.ID()), zap.String("directory", dir), zap.String("file", f), zap.Error(err))
				metrics.CleanupFailures.WithLabelValues("delete").Inc()
			}
		}
	}, nil
}

type archiveToDirectory struct {
	deleteAfterGet bool
	dir            string
	log            *zap.Logger
}

// ArchiveToDirectory moves the translated file into dir. The matched file,
// when it differs, is moved there too, or deleted if deleteAfterGet is set.
func ArchiveToDirectory(deleteAfterGet bool, dir string) Strategy {
	return &archiveToDirectory{
		deleteAfterGet: deleteAfterGet,
		dir:            strings.TrimSuffix(dir, "/"),
		log:            logger.WithModule("completion"),
	}
}

func (a *archiveToDirectory) Handler(_ expression.Properties, filename, translatedName string) (remotefs.CloseFunc, error) {
	to1 := a.dir + "/" + translatedName
	to2 := ""
	if !a.deleteAfterGet {
		to2 = a.dir + "/" + filename
	}
	return archiver{
		strategy: "archive",
		from1:    translatedName,
		to1:      to1,
		from2:    filename,
		to2:      to2,
		log:      a.log,
	}.run, nil
}

type renameWith struct {
	filenameExpr         expression.Expression
	originalFilenameExpr expression.Expression
	log                  *zap.Logger
}

// RenameWith renames the translated file to the result of filenameExpr and
// the matched file to the result of originalFilenameExpr. Both are evaluated
// when the stream is opened. A nil expression or a blank result deletes the
// file instead.
func RenameWith(filenameExpr, originalFilenameExpr expression.Expression) Strategy {
	return &renameWith{
		filenameExpr:         filenameExpr,
		originalFilenameExpr: originalFilenameExpr,
		log:                  logger.WithModule("completion"),
	}
}

func (r *renameWith) Handler(props expression.Properties, filename, translatedName string) (remotefs.CloseFunc, error) {
	to1, err := evaluate(r.filenameExpr, props)
	if err != nil {
		return nil, err
	}
	to2, err := evaluate(r.originalFilenameExpr, props)
	if err != nil {
		return nil, err
	}
	return archiver{
		strategy: "rename",
		from1:    translatedName,
		to1:      to1,
		from2:    filename,
		to2:      to2,
		log:      r.log,
	}.run, nil
}

func evaluate(e expression.Expression, props expression.Properties) (string, error) {
	if e == nil {
		return "", nil
	}
	return e.Evaluate(props)
}

// archiver moves from1 to to1 and, when it is a different file, from2 to
// to2. An empty target deletes the source.
type archiver struct {
	strategy   string
	from1, to1 string
	from2, to2 string
	log        *zap.Logger
}

func (a archiver) run(s remotefs.Session) {
	a.move(s, a.from1, a.to1)
	if a.from1 != a.from2 {
		a.move(s, a.from2, a.to2)
	}
}

func (a archiver) move(s remotefs.Session, from, to string) {
	var err error
	if strings.TrimSpace(to) == "" {
		err = s.Delete(s.CurrentDirectory(), from)
	} else {
		err = s.Move(from, to)
	}
	if err != nil {
		a.log.Warn("archiving failed",
			zap.String("session", s.ID()), zap.String("from", from), zap.String("to", to), zap.Error(err))
		metrics.CleanupFailures.WithLabelValues(a.strategy).Inc()
	}
}
