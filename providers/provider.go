package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"interaction-pipeline/providers/localfile"
	"interaction-pipeline/providers/s3object"
	"interaction-pipeline/storage"
)

// Source ist das Interface, das jede Quelle einer Interaktions-CSV implementieren muss.
type Source interface {
	// Name ist der Quellname für Audit und Logs (Pfad oder s3-URI).
	Name() string

	// Open öffnet die Quelle zum Lesen. Der Aufrufer schließt den Reader.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ErrInvalidSource kennzeichnet einen unbrauchbaren Quellpfad (Bedienfehler).
var ErrInvalidSource = errors.New("invalid source")

// Check prüft einen Quellpfad ohne Netzwerk- oder Datenbankzugriff: s3://-URIs
// müssen wohlgeformt sein, lokale Pfade müssen auf eine Datei zeigen.
func Check(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidSource)
	}
	if strings.HasPrefix(path, s3object.Scheme) {
		if _, _, err := s3object.ParseURI(path); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidSource, path)
	}
	return nil
}

// Resolve wählt anhand des Pfads die passende Quelle. s3://-Pfade brauchen einen Client;
// ein nil-Client bedeutet, dass kein Archiv konfiguriert ist.
func Resolve(path string, client storage.ObjectGetter) (Source, error) {
	if err := Check(path); err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, s3object.Scheme) {
		return localfile.New(path), nil
	}
	if client == nil {
		return nil, fmt.Errorf("%w: %s requires archive credentials (ARCHIVE_S3_*)", ErrInvalidSource, path)
	}
	bucket, key, _ := s3object.ParseURI(path)
	return s3object.New(client, bucket, key), nil
}

type readerSource struct {
	name string
	r    io.Reader
}

// FromReader verpackt einen bereits geöffneten Reader, z.B. einen HTTP-Body.
func FromReader(name string, r io.Reader) Source {
	return &readerSource{name: name, r: r}
}

func (s *readerSource) Name() string { return s.name }

func (s *readerSource) Open(context.Context) (io.ReadCloser, error) {
	if rc, ok := s.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.r), nil
}
