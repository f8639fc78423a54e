package embedding

import "strings"

// ContentType classifies what is being embedded, so GenAI can pick the task
// type that best matches how the vector will be used.
type ContentType string

const (
	ContentTypeQuestion ContentType = "question" // the user's question
	ContentTypeEvidence ContentType = "evidence" // a retrieved pack item
	ContentTypeDraft    ContentType = "draft"    // a composer draft or paraphrase
	ContentTypeFact     ContentType = "fact"     // a PCN-backed numeric claim
)

// SelectTaskType picks the GenAI embedding task type for a content type.
func SelectTaskType(contentType ContentType, isQuery bool) string {
	switch contentType {
	case ContentTypeQuestion:
		return "RETRIEVAL_QUERY"
	case ContentTypeEvidence:
		return "RETRIEVAL_DOCUMENT"
	case ContentTypeFact:
		return "FACT_VERIFICATION"
	case ContentTypeDraft:
		return "SEMANTIC_SIMILARITY"
	default:
		if isQuery {
			return "RETRIEVAL_QUERY"
		}
		return "SEMANTIC_SIMILARITY"
	}
}

// DetectContentType heuristically classifies text lacking explicit metadata.
func DetectContentType(text string) ContentType {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(lowered, "what ") || strings.HasPrefix(lowered, "how ") ||
		strings.HasPrefix(lowered, "why ") || strings.HasPrefix(lowered, "when ") ||
		strings.HasPrefix(lowered, "where ") || strings.HasSuffix(lowered, "?") {
		return ContentTypeQuestion
	}
	return ContentTypeEvidence
}
