// Package filestorage holds the pieces of OpenCV's FileStorage YAML dialect
// shared by every document this module reads or writes.
package filestorage

import "bytes"

// Header is the directive line OpenCV's FileStorage writes and expects.
const Header = "%YAML:1.0\n"

// WithHeader prefixes a YAML body with Header.
func WithHeader(body []byte) []byte {
	return append([]byte(Header), body...)
}

// StripHeader removes the OpenCV directive line, which is not valid YAML 1.2.
func StripHeader(data []byte) []byte {
	if bytes.HasPrefix(data, []byte("%YAML:")) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			return data[i+1:]
		}
		return nil
	}
	return data
}
