package mirror

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ResolveLocalPath maps remotePath below basePath to a path below
// localBasePath. Paths escaping localBasePath are rejected.
func ResolveLocalPath(remotePath, basePath, localBasePath string) (string, error) {
	relativePath := strings.TrimPrefix(remotePath, basePath)
	relativePath = strings.TrimPrefix(relativePath, "/")

	root, err := filepath.Abs(localBasePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	localPath := filepath.Join(root, filepath.FromSlash(relativePath))
	if localPath != root && !strings.HasPrefix(localPath, root+string(filepath.Separator)) {
		return "", fmt.Errorf("remote path %s escapes %s", remotePath, localBasePath)
	}
	return localPath, nil
}

// SaveRemoteFile copies reader into the local counterpart of remotePath,
// creating parent directories. A partially written file is removed.
func SaveRemoteFile(remotePath, basePath, localBasePath string, reader io.Reader) error {
	localPath, err := ResolveLocalPath(remotePath, basePath, localBasePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	destFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(destFile, reader); err != nil {
		_ = destFile.Close()
		_ = os.Remove(localPath)
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	return destFile.Close()
}

// PromptToContinue shows where the first file of job will be written and
// asks for confirmation.
func PromptToContinue(job *Job, in io.Reader, out io.Writer) (bool, error) {
	if len(job.Items) == 0 {
		fmt.Fprintln(out, "No files to download.")
		return false, nil
	}

	first := job.Items[0]
	localPath, err := ResolveLocalPath(first.Path, job.SourceURL.Path, job.TargetDir)
	if err != nil {
		return false, err
	}

	u := job.SourceURL
	fmt.Fprintf(out, "\nFile %s://%s@%s%s will become %s\n", u.Scheme, u.User.Username(), u.Host, first.Path, localPath)
	fmt.Fprint(out, "Do you want to continue? (y/n): ")

	var response string
	_, _ = fmt.Fscanln(in, &response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes", nil
}
