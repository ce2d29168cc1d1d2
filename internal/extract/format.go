// Package extract turns attachment payloads into plain text. Dispatch is a
// closed set of formats so adding one forces every switch to be revisited.
package extract

import (
	"path/filepath"
	"strings"
)

// Format enumerates the supported attachment formats.
type Format string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown Format = ""
	// FormatText represents plain text documents.
	FormatText Format = "txt"
	// FormatMarkdown represents Markdown documents.
	FormatMarkdown Format = "md"
	// FormatSource represents source-code files.
	FormatSource Format = "source"
	// FormatJSON represents JSON documents.
	FormatJSON Format = "json"
	// FormatXML represents XML documents.
	FormatXML Format = "xml"
	// FormatYAML represents YAML documents.
	FormatYAML Format = "yaml"
	// FormatShell represents shell scripts.
	FormatShell Format = "sh"
	// FormatCSV represents comma separated values documents.
	FormatCSV Format = "csv"
	// FormatHTML represents HTML documents.
	FormatHTML Format = "html"
	// FormatPDF represents PDF documents.
	FormatPDF Format = "pdf"
	// FormatDOCX represents OOXML Word documents.
	FormatDOCX Format = "docx"
	// FormatDOC represents legacy Word documents (best-effort decode).
	FormatDOC Format = "doc"
)

var extensionFormats = map[string]Format{
	".txt":  FormatText,
	".md":   FormatMarkdown,
	".py":   FormatSource,
	".js":   FormatSource,
	".ts":   FormatSource,
	".java": FormatSource,
	".cpp":  FormatSource,
	".c":    FormatSource,
	".go":   FormatSource,
	".rs":   FormatSource,
	".tf":   FormatSource,
	".json": FormatJSON,
	".xml":  FormatXML,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".sh":   FormatShell,
	".csv":  FormatCSV,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".doc":  FormatDOC,
}

var mimeFormats = map[string]Format{
	"text/plain":         FormatText,
	"text/markdown":      FormatMarkdown,
	"application/json":   FormatJSON,
	"application/xml":    FormatXML,
	"text/xml":           FormatXML,
	"text/yaml":          FormatYAML,
	"application/x-yaml": FormatYAML,
	"application/x-sh":   FormatShell,
	"text/csv":           FormatCSV,
	"text/html":          FormatHTML,
	"application/pdf":    FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
	"application/msword": FormatDOC,
}

// DetectFormat infers a format from the filename's extension, falling back
// to the declared MIME type. Returns FormatUnknown when neither matches.
func DetectFormat(filename, mimeType string) Format {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if f, ok := extensionFormats[ext]; ok {
			return f
		}
	}
	if mimeType != "" {
		mime := strings.ToLower(mimeType)
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = strings.TrimSpace(mime[:i])
		}
		if f, ok := mimeFormats[mime]; ok {
			return f
		}
	}
	return FormatUnknown
}

// Supported reports whether a filename/MIME pair maps to a known format.
func Supported(filename, mimeType string) bool {
	return DetectFormat(filename, mimeType) != FormatUnknown
}

// Formats returns every supported format.
func Formats() []Format {
	return []Format{
		FormatText, FormatMarkdown, FormatSource, FormatJSON, FormatXML,
		FormatYAML, FormatShell, FormatCSV, FormatHTML, FormatPDF,
		FormatDOCX, FormatDOC,
	}
}
