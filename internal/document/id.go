package document

import "regexp"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]+$`)

// ValidateID enforces the DocumentId grammar: UTF-8, 1..=512 bytes,
// characters in [A-Za-z0-9:_-].
func ValidateID(id string) error {
	if len(id) < 1 || len(id) > 512 {
		return errInvalidDocumentID("document id must be 1..512 bytes")
	}
	if !idPattern.MatchString(id) {
		return errInvalidDocumentID("document id must match [A-Za-z0-9:_-]+")
	}
	return nil
}
