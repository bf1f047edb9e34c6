package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yarkm13/ftpclient/internal/config"
	"github.com/yarkm13/ftpclient/internal/mirror"
	"github.com/yarkm13/ftpclient/pkg/connector"
	"github.com/yarkm13/ftpclient/pkg/metrics"
	"github.com/yarkm13/ftpclient/pkg/remotefs"
)

// split resolves p against the URL directory and returns its directory and
// file name.
func (a *app) split(p string) (string, string, error) {
	if !path.IsAbs(p) {
		p = path.Join("/", a.baseDir, p)
	}
	dir, name := path.Split(p)
	if name == "" {
		return "", "", fmt.Errorf("%q does not name a file", p)
	}
	return dir, name, nil
}

func runList(ctx context.Context, a *app, args []string) error {
	dir := a.baseDir
	if len(args) > 0 {
		dir = args[0]
	}
	files, err := a.conn.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		ts := "-"
		if t, ok := f.Timestamp(); ok {
			ts = t.Format(time.RFC3339)
		}
		fmt.Fprintf(a.stdout, "%-13s %12d %s %s\n", f.Type(), f.Size(), ts, f.Name())
	}
	return nil
}

func runGet(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: " + commands["get"].usage)
	}
	dir, name, err := a.split(args[0])
	if err != nil {
		return err
	}
	r, err := a.conn.GetFile(ctx, dir, name)
	if err != nil {
		return err
	}
	defer r.Close()

	var out io.Writer = a.stdout
	if len(args) > 1 && args[1] != "-" {
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = io.Copy(out, r)
	return err
}

func runPut(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: " + commands["put"].usage)
	}
	dir, name, err := a.split(args[1])
	if err != nil {
		return err
	}
	var in io.Reader = a.stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	return a.conn.PutFile(ctx, dir, name, in)
}

func runDelete(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: " + commands["delete"].usage)
	}
	dir, name, err := a.split(args[0])
	if err != nil {
		return err
	}
	return a.conn.Delete(ctx, dir, name)
}

func runRename(ctx context.Context, a *app, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: " + commands["rename"].usage)
	}
	dir, name, err := a.split(args[0])
	if err != nil {
		return err
	}
	return a.conn.Rename(ctx, dir, name, args[1], args[2])
}

func runTest(ctx context.Context, a *app, _ []string) error {
	if err := a.conn.TestConnection(ctx); err != nil {
		var connErr *remotefs.ConnectionError
		if errors.As(err, &connErr) {
			return fmt.Errorf("connection test failed (%s): %w", connErr.Kind, err)
		}
		return err
	}
	fmt.Fprintln(a.stdout, "connection ok")
	return nil
}

func runPoll(ctx context.Context, a *app, args []string) error {
	fs := pflag.NewFlagSet("poll", pflag.ContinueOnError)
	fs.SetOutput(a.stdout)
	targetDir := fs.String("target-dir", "", "Write polled files to this directory")
	pattern := fs.String("pattern", "", "Regex for file names when no polls are configured")
	deleteAfterGet := fs.Bool("delete", false, "Delete files after get when no polls are configured")
	once := fs.Bool("once", false, "Run every poll once and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	polls := a.cfg.Polls
	if len(polls) == 0 {
		polls = []config.PollConfig{{
			Name:           "default",
			Directory:      a.baseDir,
			Pattern:        *pattern,
			DeleteAfterGet: *deleteAfterGet,
		}}
	}

	handler := func(_ context.Context, msg *connector.Message) error {
		a.log.Info("received file",
			zap.String("filename", msg.Properties.Filename),
			zap.String("originalFilename", msg.Properties.OriginalFilename),
			zap.Int64("fileSize", msg.Properties.FileSize))
		if *targetDir == "" {
			if msg.Stream != nil {
				_, err := io.Copy(io.Discard, msg.Stream)
				return errors.Join(err, msg.Stream.Close())
			}
			return nil
		}
		var content io.Reader = bytes.NewReader(msg.Data)
		if msg.Stream != nil {
			defer msg.Stream.Close()
			content = msg.Stream
		}
		return mirror.SaveRemoteFile(path.Base(msg.Properties.Filename), "", *targetDir, content)
	}

	poller := connector.NewPoller()
	if err := config.RegisterPolls(poller, a.conn, polls, handler); err != nil {
		return err
	}

	if *once {
		for _, p := range polls {
			if err := poller.RunOnce(ctx, p.Name); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Metrics.Address != "" {
		srv, err := metrics.Listen(a.cfg.Metrics.Address)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		a.log.Info("serving metrics", zap.String("address", srv.Addr()))
		g.Go(func() error { return srv.Serve(gctx) })
	}

	poller.Start()
	a.log.Info("polling started", zap.Int("polls", len(polls)))
	g.Go(func() error {
		<-gctx.Done()
		<-poller.Stop().Done()
		return nil
	})
	return g.Wait()
}

func runMirror(ctx context.Context, a *app, args []string) error {
	fs := pflag.NewFlagSet("mirror", pflag.ContinueOnError)
	fs.SetOutput(a.stdout)
	targetDir := fs.String("target-dir", "", "Target directory")
	threads := fs.Int("threads", mirror.DefaultWorkers, "Number of download threads")
	jobFile := fs.String("job", "", "Resume from job file")
	yes := fs.BoolP("yes", "y", false, "Do not ask before downloading")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var job *mirror.Job
	if *jobFile != "" {
		var err error
		job, err = mirror.ParseJobFile(*jobFile)
		if err != nil {
			return fmt.Errorf("error reading job file: %w", err)
		}
	} else {
		if *targetDir == "" {
			return errors.New("missing required parameter: --target-dir")
		}
		source := &url.URL{
			Scheme: a.cfg.Endpoint.Protocol,
			User:   url.User(a.cfg.Endpoint.User),
			Host:   a.cfg.Endpoint.Host,
			Path:   a.baseDir,
		}
		if a.cfg.Endpoint.Port != 0 {
			source.Host = fmt.Sprintf("%s:%d", a.cfg.Endpoint.Host, a.cfg.Endpoint.Port)
		}
		job = mirror.NewJob(source, *targetDir, time.Now().Format("20060102150405")+".dljob")

		files, err := mirror.ListRecursively(ctx, a.conn, a.baseDir)
		if err != nil {
			return fmt.Errorf("error listing files: %w", err)
		}
		job.AddItems(files)
	}

	if !*yes {
		ok, err := mirror.PromptToContinue(job, a.stdin, a.stdout)
		if err != nil || !ok {
			return err
		}
	}

	a.log.Info("mirroring", zap.String("job", job.File()), zap.Int("files", len(job.Items)))
	if err := mirror.NewRunner(a.conn, mirror.WithWorkers(*threads)).Run(ctx, job); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "All downloads completed.")
	return nil
}
