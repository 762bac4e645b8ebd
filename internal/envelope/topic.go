package envelope

import (
	"strings"
	"unicode"
)

const (
	userTopicPrefix = "user:"
	chatTopicPrefix = "chat:"
)

// UserTopic carries direct, presence and call events for one user.
func UserTopic(userID string) string { return userTopicPrefix + userID }

// ChatTopic carries message and typing broadcasts for one chat.
func ChatTopic(chatID string) string { return chatTopicPrefix + chatID }

// ParseTopic splits a topic into its kind ("user" or "chat") and id. ok is
// false for unknown kinds and for ids that are empty or hold whitespace,
// '.', '*' or '>', which a broker subject could not carry as one token.
func ParseTopic(topic string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(topic, userTopicPrefix):
		kind, id = "user", topic[len(userTopicPrefix):]
	case strings.HasPrefix(topic, chatTopicPrefix):
		kind, id = "chat", topic[len(chatTopicPrefix):]
	default:
		return "", "", false
	}
	return kind, id, validID(id)
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
