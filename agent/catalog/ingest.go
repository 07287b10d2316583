package catalog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	FieldCategory    = "Category"
	FieldProduct     = "Product"
	FieldPrice       = "Price"
	FieldDescription = "Description"
)

var requiredFields = []string{FieldCategory, FieldProduct, FieldPrice, FieldDescription}

var ErrMissingField = errors.New("catalog row is missing a required field")

// LoadFile reads a catalog from disk. Files ending in .txt or .md hold
// blank-line separated documents; anything else is read as CSV.
func LoadFile(path string) ([]Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return ReadDocuments(f)
	default:
		return ReadCSV(f)
	}
}

// ReadDocuments reads documents in the Product.Document format separated by
// blank lines. Malformed documents are skipped with a warning.
func ReadDocuments(r io.Reader) ([]Product, error) {
	var (
		docs    []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			docs = append(docs, strings.Join(current, "\n"))
			current = nil
		}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read catalog documents: %w", err)
	}
	flush()

	if len(docs) == 0 {
		return nil, nil
	}
	return ParseDocuments(docs), nil
}

// ReadCSV reads a catalog with a header row naming Category, Product, Price
// and Description. Rows missing any of them are skipped with a warning.
func ReadCSV(r io.Reader) ([]Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	columns := make(map[int]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	}

	var products []Product
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping unreadable catalog row")
			continue
		}

		fields := make(map[string]string, len(record))
		for i, value := range record {
			if name, ok := columns[i]; ok {
				fields[name] = value
			}
		}

		p, err := fromFields(fields)
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping malformed catalog row")
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// ParseDocument parses the "Key: value" line format produced by Product.Document.
func ParseDocument(doc string) (Product, error) {
	fields := make(map[string]string, 4)
	for _, line := range strings.Split(doc, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = value
	}
	return fromFields(fields)
}

// ParseDocuments parses a batch of documents, skipping malformed ones.
func ParseDocuments(docs []string) []Product {
	products := make([]Product, 0, len(docs))
	for i, doc := range docs {
		p, err := ParseDocument(doc)
		if err != nil {
			log.Warn().Err(err).Int("document", i).Msg("skipping malformed catalog document")
			continue
		}
		products = append(products, p)
	}
	return products
}

func fromFields(fields map[string]string) (Product, error) {
	for _, name := range requiredFields {
		if strings.TrimSpace(fields[name]) == "" {
			return Product{}, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	return Product{
		Category:    strings.TrimSpace(fields[FieldCategory]),
		Name:        strings.TrimSpace(fields[FieldProduct]),
		Price:       strings.TrimSpace(fields[FieldPrice]),
		Description: strings.TrimSpace(fields[FieldDescription]),
	}, nil
}
