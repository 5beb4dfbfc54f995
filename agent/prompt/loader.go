package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/intent.txt
	intentRaw string

	//go:embed template/qna.txt
	qnaRaw string

	//go:embed template/vision.txt
	visionRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Intent string
	QnA    string
	// Vision ends with "Allowed labels:"; the classifier appends the list.
	Vision string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Intent: strings.TrimSpace(intentRaw),
		QnA:    strings.TrimSpace(qnaRaw),
		Vision: strings.TrimSpace(visionRaw),
	}
}
