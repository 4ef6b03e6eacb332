package urlutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidgate/internal/httpclient"
)

func TestGetScheme(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://example.com/live.ts", "http"},
		{"HTTPS://example.com/live.ts", "https"},
		{"file:///tmp/a.ts", "file"},
		{"/tmp/a.ts", ""},
		{"clip.ts", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetScheme(tt.input))
		})
	}
}

func TestFilePathFromURL(t *testing.T) {
	path, err := FilePathFromURL("file:///var/lib/vidgate/in.ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vidgate/in.ts", path)

	_, err = FilePathFromURL("http://example.com/in.ts")
	assert.Error(t, err)

	_, err = FilePathFromURL("file://")
	assert.Error(t, err)
}

func TestValidateInput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "in.ts")
	require.NoError(t, os.WriteFile(file, []byte{0x47}, 0o600))

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"stdin", Stdin, false},
		{"existing file", file, false},
		{"file url", "file://" + file, false},
		{"http url", "http://camera.local/live.ts", false},
		{"empty", " ", true},
		{"missing file", filepath.Join(dir, "missing.ts"), true},
		{"directory", dir, true},
		{"unsupported scheme", "rtsp://camera.local/live", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpener_Open(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "in.ts")
	require.NoError(t, os.WriteFile(file, []byte("from file"), 0o600))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("from http"))
	}))
	defer server.Close()

	o := NewOpener(httpclient.New(httpclient.DefaultConfig()))
	o.stdin = strings.NewReader("from stdin")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"stdin", Stdin, "from stdin"},
		{"path", file, "from file"},
		{"file url", "file://" + file, "from file"},
		{"http", server.URL + "/live.ts", "from http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := o.Open(context.Background(), tt.input)
			require.NoError(t, err)
			defer rc.Close()
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err := o.Open(context.Background(), filepath.Join(dir, "missing.ts"))
	assert.Error(t, err)
}
