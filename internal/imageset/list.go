// Package imageset reads and writes calibration image lists and image files.
package imageset

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"camera-calib/internal/filestorage"
)

// ListKey is the key holding the file name sequence in a list document.
const ListKey = "File Names"

// ErrEmptyList is returned when a list names no images.
var ErrEmptyList = errors.New("image list is empty")

type listDocument struct {
	Files []string `yaml:"File Names"`
}

// LoadList reads an image list. Two forms are accepted: a FileStorage YAML
// document with a "File Names" sequence, or one path per line where blank
// lines and lines starting with '#' are skipped.
func LoadList(path string) ([]string, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image list %s", path)
	}
	files, err := ParseList(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return files, nil
}

// ParseList parses the contents of an image list.
func ParseList(data []byte) ([]string, error) {
	body := filestorage.StripHeader(data)
	if bytes.Contains(body, []byte(ListKey)) {
		var doc listDocument
		if err := yaml.Unmarshal(body, &doc); err != nil {
			return nil, errors.Wrap(err, "parsing image list")
		}
		if len(doc.Files) == 0 {
			return nil, ErrEmptyList
		}
		return doc.Files, nil
	}

	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || line == "---" {
			continue
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning image list")
	}
	if len(files) == 0 {
		return nil, ErrEmptyList
	}
	return files, nil
}

// ListNames returns prefix0ext, prefix1ext, ... prefix(count-1)ext.
func ListNames(prefix string, count int, ext string) []string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d%s", prefix, i, ext)
	}
	return names
}

// GenerateList writes a list document naming count images, readable by
// LoadList and by OpenCV's FileStorage.
func GenerateList(path, prefix string, count int, ext string) error {
	if count < 1 {
		return errors.Errorf("image count %d", count)
	}
	if ext == "" {
		ext = ".jpg"
	}
	body, err := yaml.Marshal(listDocument{Files: ListNames(prefix, count, ext)})
	if err != nil {
		return errors.Wrap(err, "encoding image list")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	data := filestorage.WithHeader(append([]byte("---\n"), body...))
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "writing %s", path)
}
