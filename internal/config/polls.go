package config

import (
	"context"
	"fmt"

	"github.com/yarkm13/ftpclient/pkg/connector"
	"github.com/yarkm13/ftpclient/pkg/expression"
)

// Request converts the poll definition into a connector request.
func (p PollConfig) Request() (connector.PollRequest, error) {
	req := connector.PollRequest{
		Name:           p.Name,
		Directory:      p.Directory,
		Pattern:        p.Pattern,
		DeleteAfterGet: p.DeleteAfterGet,
		Streaming:      p.Streaming,
	}
	if p.TranslatedName != "" {
		e, err := expression.Parse(p.TranslatedName)
		if err != nil {
			return req, err
		}
		req.TranslatedName = e
	}
	return req, nil
}

// PollFunc binds the poll definition to c and handler, choosing the
// archiving variant from Archive.Mode.
func (p PollConfig) PollFunc(c *connector.Connector, handler connector.Handler) (connector.PollFunc, error) {
	req, err := p.Request()
	if err != nil {
		return nil, err
	}
	switch p.Archive.Mode {
	case "", "none":
		return func(ctx context.Context) { c.Poll(ctx, req, handler) }, nil
	case "move":
		dir := p.Archive.MoveToDirectory
		return func(ctx context.Context) {
			c.PollWithArchivingByMovingToDirectory(ctx, req, dir, handler)
		}, nil
	case "rename":
		filenameExpr, err := optionalExpression(p.Archive.FilenameExpression)
		if err != nil {
			return nil, err
		}
		originalExpr, err := optionalExpression(p.Archive.OriginalFilenameExpression)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) {
			c.PollWithArchivingByRenaming(ctx, req, filenameExpr, originalExpr, handler)
		}, nil
	default:
		return nil, fmt.Errorf("poll %q: unknown archive mode %q", p.Name, p.Archive.Mode)
	}
}

func optionalExpression(src string) (expression.Expression, error) {
	if src == "" {
		return nil, nil
	}
	return expression.Parse(src)
}

// RegisterPolls adds every configured poll to poller.
func RegisterPolls(poller *connector.Poller, c *connector.Connector, polls []PollConfig, handler connector.Handler) error {
	for _, p := range polls {
		fn, err := p.PollFunc(c, handler)
		if err != nil {
			return err
		}
		if err := poller.Add(p.Name, p.Schedule, fn); err != nil {
			return err
		}
	}
	return nil
}
