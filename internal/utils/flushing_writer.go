package utils

import "io"

type flusher interface {
	Flush() error
}

type flushingWriter struct {
	target io.Writer
}

// NewFlushingWriter returns a writer that flushes target after every write
// when target supports it.
func NewFlushingWriter(target io.Writer) io.Writer {
	return flushingWriter{target: target}
}

func (writer flushingWriter) Write(data []byte) (int, error) {
	written, writeError := writer.target.Write(data)
	if writeError != nil {
		return written, writeError
	}
	if flushable, supportsFlush := writer.target.(flusher); supportsFlush {
		if flushError := flushable.Flush(); flushError != nil {
			return written, flushError
		}
	}
	return written, nil
}
