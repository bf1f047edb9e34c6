// Package mirror downloads a remote directory tree with several workers and
// keeps its progress in a job file so an interrupted run can be resumed.
package mirror

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

type Status int

// Only StatusPending and StatusDone are persisted. Items that failed in
// this run are retried by the next one.
const (
	StatusFailed     Status = -2
	StatusInProgress Status = -1
	StatusPending    Status = 0
	StatusDone       Status = 1
)

// Item is a single remote file to download.
type Item struct {
	Path   string
	Status Status
}

// Job holds the entire download job.
type Job struct {
	SourceURL *url.URL
	TargetDir string
	Items     []Item

	mu   sync.Mutex
	file string
}

// NewJob starts an empty job persisted to file.
func NewJob(source *url.URL, targetDir, file string) *Job {
	return &Job{SourceURL: source, TargetDir: targetDir, file: file}
}

// ParseJobFile reads a job written by Save. Items that were in progress are
// pending again.
func ParseJobFile(filename string) (*Job, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	job := &Job{file: filename}
	lineNum := 0
	for scanner.Scan() {
		line := scanner.Text()
		switch lineNum {
		case 0:
			job.SourceURL, err = url.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("job file %s: source url: %w", filename, err)
			}
		case 1:
			job.TargetDir = line
		default:
			parts := strings.SplitN(line, ":", 2)
			if len(parts) != 2 {
				continue
			}
			status := StatusPending
			if parts[0] == "1" {
				status = StatusDone
			}
			job.Items = append(job.Items, Item{Path: parts[1], Status: status})
		}
		lineNum++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("job file %s: %w", filename, err)
	}
	if job.SourceURL == nil {
		return nil, fmt.Errorf("job file %s: missing source url", filename)
	}
	return job, nil
}

func (j *Job) File() string { return j.file }

// AddItems queues paths as pending.
func (j *Job) AddItems(paths []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, p := range paths {
		j.Items = append(j.Items, Item{Path: p, Status: StatusPending})
	}
}

// Counts returns the number of pending and done items.
func (j *Job) Counts() (pending, done int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, it := range j.Items {
		switch it.Status {
		case StatusDone:
			done++
		default:
			pending++
		}
	}
	return pending, done
}

// Save writes the job atomically. The source password is never written.
func (j *Job) Save() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tmp := j.file + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, withoutPassword(j.SourceURL))
	fmt.Fprintln(w, j.TargetDir)
	for _, item := range j.Items {
		status := item.Status
		if status != StatusDone {
			status = StatusPending
		}
		fmt.Fprintf(w, "%d:%s\n", status, item.Path)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, j.file)
}

// claim marks the first pending item in progress and returns its index.
func (j *Job) claim() (int, string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.Items {
		if j.Items[i].Status == StatusPending {
			j.Items[i].Status = StatusInProgress
			return i, j.Items[i].Path, true
		}
	}
	return 0, "", false
}

func (j *Job) finish(i int, status Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Items[i].Status = status
}

func withoutPassword(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	if c.User != nil {
		c.User = url.User(c.User.Username())
	}
	return c.String()
}
