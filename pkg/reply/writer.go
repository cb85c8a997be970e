// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package reply

import (
	"net/http"
)

// Writer wraps an http.ResponseWriter and records whether the status line has
// been sent. Providers that write to the response directly go through the same
// Writer, so the pipeline can tell when it must stop writing.
type Writer struct {
	http.ResponseWriter
	status    int
	committed bool
}

// NewWriter wraps w. If w is already a *Writer it is returned as is.
func NewWriter(w http.ResponseWriter) *Writer {
	if rw, ok := w.(*Writer); ok {
		return rw
	}
	return &Writer{ResponseWriter: w}
}

// WriteHeader sends the status line once. Later calls are ignored.
func (w *Writer) WriteHeader(code int) {
	if w.committed {
		return
	}
	w.status = code
	w.committed = true
	w.ResponseWriter.WriteHeader(code)
}

// Write commits the response with 200 if nothing was sent yet.
func (w *Writer) Write(b []byte) (int, error) {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher when the underlying writer does.
func (w *Writer) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if !w.committed {
			w.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

// Committed reports whether the status line has been sent.
func (w *Writer) Committed() bool {
	return w.committed
}

// Status returns the status code sent, or 0 if the response is not committed.
func (w *Writer) Status() int {
	return w.status
}

// Unwrap returns the underlying writer for http.ResponseController.
func (w *Writer) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
