package usecase

import "strings"

// Fixed conversational patterns short-circuit the pipeline: no retrieval, no
// cache, but the interaction is still logged.
var conversationalReplies = []struct {
	patterns []string
	reply    string
}{
	{
		patterns: []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"},
		reply:    "Hello! Ask me anything about your documents and I will answer with citations to the exact passages I used.",
	},
	{
		patterns: []string{"thanks", "thank you", "thx"},
		reply:    "You're welcome! Let me know if you have more questions about your documents.",
	},
	{
		patterns: []string{"help", "what can you do", "how do you work", "how does this work"},
		reply:    "I answer questions using your uploaded documents. Every answer includes numbered citations like [1] that point back to the source passages, so you can verify each claim.",
	},
	{
		patterns: []string{"bye", "goodbye", "see you"},
		reply:    "Goodbye! Come back whenever you need something from your documents.",
	},
}

// ConversationalReply returns a canned response when the question is a
// greeting or help request rather than a document question.
func ConversationalReply(question string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(question))
	normalized = strings.TrimRight(normalized, "?!. ")
	if normalized == "" {
		return "", false
	}

	for _, entry := range conversationalReplies {
		for _, pattern := range entry.patterns {
			if normalized == pattern {
				return entry.reply, true
			}
		}
	}
	return "", false
}
