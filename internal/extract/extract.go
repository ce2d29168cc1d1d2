package extract

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/infrapilot/infrapilot/internal/domain"
)

// ExtractText extracts plain text from a payload of the given format.
// Empty payloads extract to empty text for every supported format.
func ExtractText(data []byte, format Format) (string, error) {
	if format == FormatUnknown {
		return "", fmt.Errorf("%w: format not in supported set", domain.ErrUnsupportedFormat)
	}
	if len(data) == 0 {
		return "", nil
	}

	switch format {
	case FormatText, FormatMarkdown, FormatSource, FormatJSON, FormatXML, FormatYAML, FormatShell, FormatDOC:
		return decodeText(data), nil
	case FormatCSV:
		return extractCSV(data)
	case FormatHTML:
		return extractHTML(data)
	case FormatPDF:
		return extractPDF(data)
	case FormatDOCX:
		return extractDOCX(data)
	default:
		return "", fmt.Errorf("%w: format %q", domain.ErrUnsupportedFormat, format)
	}
}

// decodeText drops invalid UTF-8 sequences instead of failing; text-like
// formats never produce an extraction error.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

func extractCSV(data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("%w: parse csv: %v", domain.ErrExtraction, err)
	}
	if len(records) == 0 {
		return "", nil
	}

	headers := records[0]
	var b strings.Builder
	for rowIdx, row := range records[1:] {
		fmt.Fprintf(&b, "Row %d:", rowIdx+1)
		for i, field := range row {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			name := fmt.Sprintf("col%d", i+1)
			if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
				name = strings.TrimSpace(headers[i])
			}
			fmt.Fprintf(&b, " %s=%s;", name, field)
		}
		b.WriteByte('\n')
	}
	if len(records) == 1 {
		// Header-only file: keep the header line itself.
		b.WriteString(strings.Join(headers, ", "))
	}
	return strings.TrimSpace(b.String()), nil
}

func extractHTML(data []byte) (string, error) {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return strings.TrimSpace(b.String()), nil
			}
			return "", fmt.Errorf("%w: parse html: %v", domain.ErrExtraction, tokenizer.Err())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text != "" {
				b.WriteString(text)
				b.WriteByte('\n')
			}
		}
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", domain.ErrExtraction, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extract pdf text: %v", domain.ErrExtraction, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", domain.ErrExtraction, err)
	}
	return buf.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open docx archive: %v", domain.ErrExtraction, err)
	}

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: open docx document: %v", domain.ErrExtraction, err)
		}
		defer rc.Close()
		return decodeDOCXBody(rc)
	}
	return "", fmt.Errorf("%w: docx archive has no word/document.xml", domain.ErrExtraction)
}

func decodeDOCXBody(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var b strings.Builder
	var inText bool

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: decode docx xml: %v", domain.ErrExtraction, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
