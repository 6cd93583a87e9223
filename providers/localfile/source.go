package localfile

import (
	"context"
	"io"
	"os"
)

// Source liest eine CSV-Datei aus dem lokalen Dateisystem.
type Source struct {
	Path string
}

// New erstellt eine Dateiquelle.
func New(path string) *Source {
	return &Source{Path: path}
}

// Name gibt den Dateipfad zurück.
func (s *Source) Name() string {
	return s.Path
}

// Open öffnet die Datei.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(s.Path)
}
