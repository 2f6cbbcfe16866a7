package httpclient

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/torosent/crankfeed/internal/config"
	"github.com/torosent/crankfeed/internal/placeholders"
)

// maxBodyFileSize bounds body templates read from disk.
const maxBodyFileSize = 10 << 20

// bodyTemplate is an action body loaded once and rendered per record.
type bodyTemplate string

func loadBodyTemplate(cfg *config.ActionConfig) (bodyTemplate, error) {
	path := strings.TrimSpace(cfg.BodyFile)
	switch {
	case cfg.Body != "" && path != "":
		return "", errors.New("body and body file cannot both be provided")
	case cfg.Body != "":
		return bodyTemplate(cfg.Body), nil
	case path == "":
		return "", nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("body file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("body file %q is a directory", path)
	}
	if info.Size() > maxBodyFileSize {
		return "", fmt.Errorf("body file %q is larger than %d bytes", path, maxBodyFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("body file: %w", err)
	}
	return bodyTemplate(data), nil
}

// render returns nil for an empty body.
func (t bodyTemplate) render(record map[string]string) []byte {
	if t == "" {
		return nil
	}
	return []byte(placeholders.Apply(string(t), record))
}
