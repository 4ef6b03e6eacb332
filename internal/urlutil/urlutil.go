// Package urlutil resolves stream input locations: stdin, local paths,
// file:// URLs and http(s) URLs.
package urlutil

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/jmylchreest/vidgate/internal/httpclient"
)

// Input scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"

	// Stdin is the input name for standard input.
	Stdin = "-"
)

// IsRemoteURL reports whether u is fetched over HTTP.
func IsRemoteURL(u string) bool {
	s := GetScheme(u)
	return s == SchemeHTTP || s == SchemeHTTPS
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// GetScheme returns the lower-cased scheme of u or an empty string.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the path of a file:// URL.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}
	return parsed.Path, nil
}

// localPath maps an input to a filesystem path, or "" for remote inputs.
func localPath(input string) (string, error) {
	switch {
	case IsFileURL(input):
		return FilePathFromURL(input)
	case IsRemoteURL(input):
		return "", nil
	}
	if s := GetScheme(input); s != "" && len(s) > 1 {
		return "", fmt.Errorf("unsupported input scheme %q", s)
	}
	return input, nil
}

// ValidateInput checks that input names stdin, an existing file or an
// http(s) URL.
func ValidateInput(input string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("input is required")
	}
	if input == Stdin {
		return nil
	}
	path, err := localPath(input)
	if err != nil {
		return err
	}
	if path == "" {
		if _, err := url.ParseRequestURI(input); err != nil {
			return fmt.Errorf("invalid input URL: %w", err)
		}
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file not found: %s", path)
		}
		return fmt.Errorf("checking input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input is a directory: %s", path)
	}
	return nil
}

// Opener opens stream inputs.
type Opener struct {
	http  *httpclient.Client
	stdin io.Reader
}

// NewOpener creates an Opener fetching remote inputs with client.
func NewOpener(client *httpclient.Client) *Opener {
	if client == nil {
		client = httpclient.New(httpclient.DefaultConfig())
	}
	return &Opener{http: client, stdin: os.Stdin}
}

// Open returns the byte stream for input. The caller closes it.
func (o *Opener) Open(ctx context.Context, input string) (io.ReadCloser, error) {
	if input == Stdin {
		return io.NopCloser(o.stdin), nil
	}
	path, err := localPath(input)
	if err != nil {
		return nil, err
	}
	if path == "" {
		body, err := o.http.Open(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("opening stream: %w", err)
		}
		return body, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input file: %w", err)
	}
	return f, nil
}
