package fileserver

import (
	"fmt"
	"html"
	"io"
)

type StatusCode int

const (
	StatusOK                  StatusCode = 200
	StatusBadRequest          StatusCode = 400
	StatusForbidden           StatusCode = 403
	StatusNotFound            StatusCode = 404
	StatusInternalServerError StatusCode = 500
)

var statusText = map[StatusCode]string{
	StatusOK:                  "OK",
	StatusBadRequest:          "Bad Request",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusInternalServerError: "Internal Server Error",
}

func (c StatusCode) String() string {
	return statusText[c]
}

func writeStatusLine(w io.Writer, code StatusCode) error {
	_, err := fmt.Fprintf(w, "HTTP/1.0 %d %s\r\n", code, code)
	return err
}

func writeHeader(w io.Writer, key, value string) error {
	_, err := fmt.Fprintf(w, "%s: %s\r\n", key, value)
	return err
}

func endHeaders(w io.Writer) error {
	_, err := io.WriteString(w, "\r\n")
	return err
}

// writeOK writes the 200 head. contentType is omitted when empty.
func writeOK(w io.Writer, contentType string) error {
	if err := writeStatusLine(w, StatusOK); err != nil {
		return err
	}
	if contentType != "" {
		if err := writeHeader(w, "Content-Type", contentType); err != nil {
			return err
		}
	}
	return endHeaders(w)
}

// writeNotFound embeds the (escaped) file error in the body.
func writeNotFound(w io.Writer, message string) error {
	if err := writeHTMLHead(w, StatusNotFound); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "<html><head><title>Yes!</title></head><body> %s </body></html>", html.EscapeString(message))
	return err
}

// writeError writes a fixed body that reveals nothing about the failure.
func writeError(w io.Writer, code StatusCode) error {
	if err := writeHTMLHead(w, code); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "<html><head><title>%d %s</title></head><body> %s </body></html>", code, code, code)
	return err
}

func writeHTMLHead(w io.Writer, code StatusCode) error {
	if err := writeStatusLine(w, code); err != nil {
		return err
	}
	if err := writeHeader(w, "Content-Type", "text/html"); err != nil {
		return err
	}
	return endHeaders(w)
}
