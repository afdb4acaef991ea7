package runner

import (
	"errors"
	"fmt"
)

// ErrTimeout indicates the search tool ran past its deadline and was killed.
var ErrTimeout = errors.New("search timed out")

// ExitError reports a nonzero exit status of the search tool.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("search tool exited with code %d", e.Code)
}

// ArtifactError reports a result file that exists but cannot be parsed.
type ArtifactError struct {
	Subject string
	Path    string
	Err     error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("report for %q: %v", e.Subject, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// failureMessage renders the error stored on a failed session.
func failureMessage(err error) string {
	var artifactErr *ArtifactError
	if errors.As(err, &artifactErr) {
		return "failed to parse results: " + err.Error()
	}
	return err.Error()
}
