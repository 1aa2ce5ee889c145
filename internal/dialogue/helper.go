// internal/dialogue/helper.go
package dialogue

import (
	"strings"
)

// QuickAction is a canned status update the helper can send with one tap.
// Label is what appears in the timeline; Value is the full update text the
// reply table keys on.
type QuickAction struct {
	Label string
	Value string
}

// QuickActions is the fixed catalog of helper status updates.
func QuickActions() []QuickAction {
	return []QuickAction{
		{Label: "Arrived at Location", Value: "I have arrived at the person's location."},
		{Label: "Request More Info", Value: "I need more information from the caller to proceed safely."},
		{Label: "Request Nearby Helpers", Value: "The situation requires additional helpers. Can you find helpers nearby to assist?"},
		{Label: "Assistance Complete", Value: "I have successfully provided assistance. The person is now safe."},
	}
}

// QuickActionReply resolves the guidance voice's acknowledgment for a quick
// action. Matching is keyword-based over the action value; unknown actions
// get a generic acknowledgment.
func QuickActionReply(actionValue string) Reply {
	lower := strings.ToLower(actionValue)
	switch {
	case strings.Contains(lower, "arrived"):
		return Reply{Text: "Great! You've arrived. Please assess the immediate situation and select what you observe:"}
	case strings.Contains(lower, "more info"):
		return Reply{Text: "I'll contact the caller for additional details. What specific information do you need most urgently?"}
	case strings.Contains(lower, "additional helpers"):
		return Reply{Text: "Understood. I'm searching for nearby helpers with relevant skills. What specific assistance do you need?"}
	case strings.Contains(lower, "complete"), strings.Contains(lower, "safe"):
		return Reply{Text: "Excellent work! Please confirm the final status before we close this case:"}
	default:
		return Reply{Text: "Update received. Continue following the guidance provided. Let me know if the situation changes."}
	}
}

// helperFollowUps maps keywords in a helper's free-form update to the
// guidance voice's follow-up question. First matching row wins.
var helperFollowUps = []struct {
	keywords []string
	text     string
}{
	{[]string{"arrived", "location"},
		"Great! You've arrived at the location. Can you confirm visual contact with the person in need? What's the current situation?"},
	{[]string{"problem", "issue", "difficult"},
		"I understand there are new challenges. Should we request additional helpers nearby to assist you? What specific resources do you need?"},
	{[]string{"more info", "unclear", "question"},
		"I'll help you get more information from the caller. What specific details do you need to proceed safely?"},
	{[]string{"complete", "done", "resolved"},
		"Excellent work! Can you confirm the person is now safe? Do they need any follow-up assistance or medical attention?"},
	{[]string{"medical", "injury", "hurt"},
		"Medical situation noted. Do you need emergency medical services dispatched? Should I request helpers with medical training nearby?"},
	{[]string{"multiple", "more people", "group"},
		"Multiple people detected. This may require additional support. Should we request more helpers to assist with the increased number of people?"},
}

// HelperFollowUp resolves the guidance voice's reply to a helper's free-form
// update. Total: anything unmatched gets a generic acknowledgment.
func HelperFollowUp(text string) Reply {
	lower := strings.ToLower(text)
	for _, row := range helperFollowUps {
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				return Reply{Text: row.text}
			}
		}
	}
	return Reply{Text: "Thank you for the update. Your situation has been logged. Is there anything specific you need assistance with right now?"}
}
