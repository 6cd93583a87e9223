package services

import "fmt"

// CanonicalPair ordnet zwei Wirkstoff-IDs so, dass first < second (lexikographisch).
// Jeder Schreibpfad für Interaction-Zeilen muss hierüber laufen.
func CanonicalPair(idA, idB string) (first, second string, err error) {
	if idA == "" || idB == "" {
		return "", "", fmt.Errorf("%w: empty substance id", ErrInvalidPair)
	}
	if idA == idB {
		return "", "", fmt.Errorf("%w: self-pair %s", ErrInvalidPair, idA)
	}
	if idA < idB {
		return idA, idB, nil
	}
	return idB, idA, nil
}
