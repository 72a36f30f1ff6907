// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
)

// Payload is a request body. Construct one with JSON or File.
type Payload interface {
	encode() (body io.Reader, contentType string, err error)
}

type jsonPayload struct {
	value any
}

// JSON sends v encoded as application/json.
func JSON(v any) Payload {
	return jsonPayload{value: v}
}

func (p jsonPayload) encode() (io.Reader, string, error) {
	data, err := json.Marshal(p.value)
	if err != nil {
		return nil, "", fmt.Errorf("encode json body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

type filePayload struct {
	field  string
	name   string
	reader io.Reader
}

// File sends the contents of r as a single multipart/form-data part named
// field, with name as the part's filename.
func File(field, name string, r io.Reader) Payload {
	return filePayload{field: field, name: name, reader: r}
}

func (p filePayload) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(p.field, p.name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, p.reader); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", p.name, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// filenameFromDisposition extracts the filename parameter of a
// Content-Disposition header, or "" when absent.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
