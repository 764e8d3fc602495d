package common

import (
	"bufio"
	"fmt"
	"github.com/sirupsen/logrus"
	"github.com/stleox/chrometrace/pkg/config"
	"io"
	"os"
)

// OpenError is returned when an input or output path cannot be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("Unable to open '%s': %s", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ProcessError is returned when a run fails after its streams were opened.
type ProcessError struct {
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("An error occurred while processing the log: %s", e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// OpenInput opens path for buffered reading, or returns stdin for "-".
func OpenInput(path string, stdin io.Reader) (io.Reader, func() error, error) {
	if path == config.StdStream {
		return bufio.NewReader(stdin), func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &OpenError{Path: path, Err: unwrapPathError(err)}
	}
	logrus.WithField("path", path).Debug("opened input")
	return bufio.NewReader(f), f.Close, nil
}

// OpenOutput creates path for buffered writing, or wraps stdout for "-". The
// returned cleanup flushes and, for files, closes; it must run on every
// path out of the caller.
func OpenOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == config.StdStream {
		buf := bufio.NewWriter(stdout)
		return buf, buf.Flush, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, &OpenError{Path: path, Err: unwrapPathError(err)}
	}
	logrus.WithField("path", path).Debug("opened output")
	buf := bufio.NewWriter(f)
	cleanup := func() error {
		if err := buf.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return buf, cleanup, nil
}

// the path is already part of the message
func unwrapPathError(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	return err
}
