package fiction

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("no JSON object in reply")

// cleanJSON strips markdown fences and any prose around the outermost JSON
// object.
func cleanJSON(reply string) string {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "```") && strings.HasSuffix(reply, "```") {
		reply = strings.TrimPrefix(reply, "```json")
		reply = strings.TrimPrefix(reply, "```")
		reply = strings.TrimSuffix(reply, "```")
		reply = strings.TrimSpace(reply)
	}
	if json.Valid([]byte(reply)) {
		return reply
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end <= start {
		return reply
	}
	return reply[start : end+1]
}

func decodeJSON(reply string, out any) error {
	cleaned := cleanJSON(reply)
	if !strings.HasPrefix(cleaned, "{") {
		return errNoJSON
	}
	return json.Unmarshal([]byte(cleaned), out)
}
