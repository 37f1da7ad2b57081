package app

import (
	"github.com/google/uuid"
	"veridoc/pkg/domain"
)

// defaultMenuOptions is the catalog seeded on first boot when the store holds
// no options yet.
func defaultMenuOptions() []domain.MenuOption {
	return []domain.MenuOption{
		{ID: uuid.NewString(), Description: "Summarize the document", Icon: "summary", DisplayOrder: 1},
		{ID: uuid.NewString(), Description: "Check source credibility", Icon: "shield", DisplayOrder: 2},
		{ID: uuid.NewString(), Description: "Highlight suspicious claims", Icon: "flag", DisplayOrder: 3},
		{ID: uuid.NewString(), Description: "Export analysis report", Icon: "download", DisplayOrder: 4},
	}
}
