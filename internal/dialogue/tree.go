// internal/dialogue/tree.go
package dialogue

import (
	"github.com/user/lifeline/internal/classify"
	"github.com/user/lifeline/internal/types"
)

// Question keys name the nodes of the caller decision tree. Peer-authored
// questions carry no key and resolve to the fallback acknowledgment.
const (
	KeyStatusCheck   = "status-check"
	KeyProblemType   = "problem-type"
	KeyMedicalCount  = "medical-count"
	KeyFireEvac      = "fire-evac"
	KeyTrappedSignal = "trapped-signal"
	KeySupplyCheck   = "supply-check"
	KeyUrgentNeeds   = "urgent-needs"
	KeyReprioritize  = "reprioritize"
	KeyClarify       = "clarify"
	KeyFreeText      = "free-text"
)

// Reply is the counterpart's next message, possibly carrying its own
// question.
type Reply struct {
	Text     string
	Question *types.Question
}

type branchKey struct {
	question string
	value    string
}

func problemTypeQuestion() *types.Question {
	return &types.Question{
		Key:   KeyProblemType,
		Arity: types.AritySingle,
		Options: []types.Option{
			{ID: "medical", Label: "Medical emergency", Value: "medical"},
			{ID: "fire", Label: "Fire/smoke nearby", Value: "fire"},
			{ID: "structural", Label: "Building damage/collapse", Value: "structural"},
			{ID: "trapped", Label: "Unable to move/escape", Value: "trapped"},
			{ID: "other", Label: "Something else", Value: "other"},
		},
	}
}

func supplyQuestion() *types.Question {
	return &types.Question{
		Key:   KeySupplyCheck,
		Arity: types.ArityMultiple,
		Options: []types.Option{
			{ID: "water", Label: "Water", Value: "water"},
			{ID: "food", Label: "Food", Value: "food"},
			{ID: "medical", Label: "Medical supplies", Value: "medical"},
			{ID: "phone", Label: "Working phone/battery", Value: "phone"},
		},
	}
}

// branches is the hand-authored decision tree, keyed by the pending
// question and the first selected option value.
var branches = map[branchKey]func() Reply{
	{KeyStatusCheck, "worsening"}: func() Reply {
		return Reply{
			Text:     "I understand your situation is getting worse. I'm escalating your case priority and notifying nearby helpers immediately.",
			Question: problemTypeQuestion(),
		}
	},
	{KeyStatusCheck, "new_problem"}: func() Reply {
		return Reply{
			Text:     "A new problem has been detected. Let me help you address this.",
			Question: problemTypeQuestion(),
		}
	},
	{KeyStatusCheck, "improving"}: func() Reply {
		return Reply{
			Text:     "That's good to hear! Continue following safety guidelines. Are you able to move to a safer location if needed?",
			Question: supplyQuestion(),
		}
	},
	{KeyStatusCheck, "stable"}: func() Reply {
		return Reply{
			Text:     "Understood. Continue monitoring your situation. Do you have access to essential supplies?",
			Question: supplyQuestion(),
		}
	},
	{KeyProblemType, "medical"}: func() Reply {
		return Reply{
			Text: "Medical emergency detected. Prioritizing medical responders. How many people need medical attention?",
			Question: &types.Question{
				Key:   KeyMedicalCount,
				Arity: types.AritySingle,
				Options: []types.Option{
					{ID: "1", Label: "1 person", Value: "1"},
					{ID: "2", Label: "2-3 people", Value: "2-3"},
					{ID: "4", Label: "4-5 people", Value: "4-5"},
					{ID: "more", Label: "More than 5 people", Value: "more"},
				},
			},
		}
	},
	{KeyProblemType, "fire"}: func() Reply {
		return Reply{
			Text: "Fire hazard reported. Alerting fire response teams. Can you safely evacuate from your current location?",
			Question: &types.Question{
				Key:   KeyFireEvac,
				Arity: types.AritySingle,
				Options: []types.Option{
					{ID: "yes_safe", Label: "Yes, evacuating now", Value: "yes_safe"},
					{ID: "path_blocked", Label: "No, path is blocked", Value: "path_blocked"},
					{ID: "injured", Label: "No, someone is injured", Value: "injured"},
					{ID: "unsure", Label: "Unsure/need guidance", Value: "unsure"},
				},
			},
		}
	},
	{KeyProblemType, "trapped"}: func() Reply {
		return Reply{
			Text: "Understood. Search & rescue teams are being dispatched. Stay calm and conserve energy. Can you make noise or signal your location?",
			Question: &types.Question{
				Key:   KeyTrappedSignal,
				Arity: types.ArityMultiple,
				Options: []types.Option{
					{ID: "whistle", Label: "Whistle/loud noise", Value: "whistle"},
					{ID: "flashlight", Label: "Flashlight/light", Value: "flashlight"},
					{ID: "phone", Label: "Phone signal", Value: "phone"},
					{ID: "none", Label: "No signaling method", Value: "none"},
				},
			},
		}
	},
	{KeyFreeText, string(classify.Escalating)}: func() Reply {
		return Reply{
			Text: "I detect your situation may be worsening. Escalating priority. What type of assistance do you need most urgently?",
			Question: &types.Question{
				Key:   KeyUrgentNeeds,
				Arity: types.AritySingle,
				Options: []types.Option{
					{ID: "medical", Label: "Medical/first aid", Value: "medical"},
					{ID: "evacuation", Label: "Evacuation assistance", Value: "evacuation"},
					{ID: "supplies", Label: "Food/water/supplies", Value: "supplies"},
					{ID: "rescue", Label: "Rescue/extraction", Value: "rescue"},
				},
			},
		}
	},
	{KeyFreeText, string(classify.Improving)}: func() Reply {
		return Reply{
			Text: "Glad to hear you're safer. Continue monitoring your situation. Do you still need a responder, or can we re-prioritize your case?",
			Question: &types.Question{
				Key:   KeyReprioritize,
				Arity: types.AritySingle,
				Options: []types.Option{
					{ID: "still_need", Label: "Still need help - keep priority", Value: "still_need"},
					{ID: "lower_priority", Label: "Lower priority - others need help more", Value: "lower_priority"},
					{ID: "cancel", Label: "Resolved - cancel request", Value: "cancel"},
				},
			},
		}
	},
	{KeyFreeText, string(classify.Neutral)}: func() Reply {
		return Reply{
			Text: "Update received. Your information has been logged. Is there anything specific you need right now?",
			Question: &types.Question{
				Key:   KeyClarify,
				Arity: types.AritySingle,
				Options: []types.Option{
					{ID: "nothing", Label: "Nothing - just updating status", Value: "nothing"},
					{ID: "question", Label: "I have a question", Value: "question"},
					{ID: "request", Label: "I need something", Value: "request"},
				},
			},
		}
	},
}

// fallbackReply is the terminal acknowledgment for any branch the table does
// not cover. It carries no question, so the dialogue pauses until the user
// sends free text.
func fallbackReply() Reply {
	return Reply{
		Text: "Thank you for the update. I've logged this information. Help is on the way. Stay safe and follow the guidance provided.",
	}
}

// Next resolves the counterpart's reply for the given pending question and
// selection. Only the first selected value participates in branching, even
// for multiple-choice questions. The function is total: unmatched keys
// resolve to the terminal fallback.
func Next(questionKey string, selected []string) Reply {
	if len(selected) == 0 {
		return fallbackReply()
	}
	if build, ok := branches[branchKey{questionKey, selected[0]}]; ok {
		return build()
	}
	return fallbackReply()
}

// NextFreeText resolves the counterpart's reply to free text when no human
// peer is engaged: the classifier bucket substitutes for the selection on
// the free-text node.
func NextFreeText(text string) Reply {
	return Next(KeyFreeText, []string{string(classify.Classify(text))})
}

// RootPrompt is the opening status-check message that accompanies the
// guidance text.
const RootPrompt = "How is your current situation? This helps me provide better guidance."

// RootQuestion returns the opening status-check question installed together
// with the first guidance message.
func RootQuestion() *types.Question {
	return &types.Question{
		Key:   KeyStatusCheck,
		Arity: types.AritySingle,
		Options: []types.Option{
			{ID: "stable", Label: "Stable - Situation unchanged", Value: "stable"},
			{ID: "improving", Label: "Improving - Getting safer", Value: "improving"},
			{ID: "worsening", Label: "Worsening - Need urgent help", Value: "worsening"},
			{ID: "new_problem", Label: "New problem has occurred", Value: "new_problem"},
		},
	}
}
