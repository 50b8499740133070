package processor

import "github.com/PabloTorresOyarzun/api-docs1/pkg/models"

// PageGroup is a run of consecutive pages sharing a document type
type PageGroup struct {
	DocumentType models.DocumentType
	Pages        [][]byte
}

// GroupConsecutivePages merges consecutive pages classified with the same
// type. A change of type starts a new group; page order is preserved.
func GroupConsecutivePages(pages [][]byte, classifications []models.ClassificationResult) []PageGroup {
	n := len(pages)
	if len(classifications) < n {
		n = len(classifications)
	}
	if n == 0 {
		return nil
	}

	var groups []PageGroup
	current := PageGroup{DocumentType: classifications[0].DocumentType, Pages: [][]byte{pages[0]}}
	for i := 1; i < n; i++ {
		if classifications[i].DocumentType == current.DocumentType {
			current.Pages = append(current.Pages, pages[i])
			continue
		}
		groups = append(groups, current)
		current = PageGroup{DocumentType: classifications[i].DocumentType, Pages: [][]byte{pages[i]}}
	}

	return append(groups, current)
}
