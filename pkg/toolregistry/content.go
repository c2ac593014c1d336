package toolregistry

// ContentTypeText is the only content type tools produce
const ContentTypeText = "text"

// TruncationNotice is appended as a second content item when output was cut
const TruncationNotice = "[Output was truncated due to size limit]"

// Content is one item of a tool's result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent creates a text content item
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}
