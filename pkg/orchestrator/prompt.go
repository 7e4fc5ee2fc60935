package orchestrator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Ramsey-B/wingfox/pkg/llm"
	"github.com/Ramsey-B/wingfox/pkg/models"
)

// Dialogue languages
const (
	LanguageEnglish  = "en"
	LanguageJapanese = "ja"
)

// DetectLanguage returns "ja" when any text contains kana or kanji, otherwise "en"
func DetectLanguage(texts ...string) string {
	for _, text := range texts {
		for _, r := range text {
			if unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han) {
				return LanguageJapanese
			}
		}
	}
	return LanguageEnglish
}

// PlaceholderReply stands in for an empty generation
func PlaceholderReply(language string) string {
	if language == LanguageJapanese {
		return "（少し考えてから、にっこり笑う）"
	}
	return "(pauses for a moment and smiles)"
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '\n':
		return true
	}
	return false
}

// TruncateReply limits text to max runes. When the text overshoots by more than half the
// budget it is cut after the last sentence end inside the budget; otherwise, or when no
// sentence end exists, it is cut hard.
func TruncateReply(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}

	runes := []rune(text)
	over := len(runes) - max
	kept := runes[:max]

	if over > max/2 {
		for i := len(kept) - 1; i > 0; i-- {
			if isSentenceEnd(kept[i]) {
				return strings.TrimSpace(string(kept[:i+1]))
			}
		}
	}
	return strings.TrimSpace(string(kept))
}

// BuildSystemInstruction turns a compiled persona document into the instruction for one side
func BuildSystemInstruction(persona *models.Persona, partnerName, language string, maxChars int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(persona.CompiledDocument))
	b.WriteString("\n\n")
	if language == LanguageJapanese {
		fmt.Fprintf(&b, "あなたは%sです。初めて会った%sさんと会話しています。\n", persona.DisplayName, partnerName)
		b.WriteString("キャラクターを守り、自然な日本語で話してください。\n")
		fmt.Fprintf(&b, "1回の返答は%d文字以内にしてください。ナレーションや名前の接頭辞は付けないでください。", maxChars)
		return b.String()
	}
	fmt.Fprintf(&b, "You are %s, talking with %s for the first time.\n", persona.DisplayName, partnerName)
	b.WriteString("Stay in character and speak naturally in English.\n")
	fmt.Fprintf(&b, "Keep each reply under %d characters. Do not add narration or a name prefix.", maxChars)
	return b.String()
}

func openingLine(language, partnerName string) string {
	if language == LanguageJapanese {
		return fmt.Sprintf("%sさんとの会話を始めてください。短く親しみやすい挨拶から始めましょう。", partnerName)
	}
	return fmt.Sprintf("Start the conversation with %s. Open with a short, friendly greeting.", partnerName)
}

// RoundMessages renders the history from the speaker's point of view: its own turns are
// model messages and the partner's are user messages. The list always starts with a user
// message.
func RoundMessages(history []models.Turn, speaker models.Speaker, language, partnerName string) []llm.Message {
	opener := llm.Message{Role: llm.RoleUser, Text: openingLine(language, partnerName)}
	if len(history) == 0 {
		return []llm.Message{opener}
	}

	messages := make([]llm.Message, 0, len(history)+1)
	if history[0].Speaker == speaker {
		messages = append(messages, opener)
	}
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Speaker == speaker {
			role = llm.RoleModel
		}
		messages = append(messages, llm.Message{Role: role, Text: turn.Content})
	}
	return messages
}

const assessmentInstruction = `You are a relationship psychologist reviewing a first conversation between two people.
Return only a JSON object with these keys:
  "overall_score": integer 0-100, overall compatibility shown in the conversation
  "reciprocity": number 0-1, balance of give and take
  "humor_sharing": number 0-1, shared humor and playfulness
  "self_disclosure": number 0-1, willingness to open up
  "emotional_responsiveness": number 0-1, attunement to the other's feelings
  "self_esteem": number 0-1, security and stability of self-presentation
  "conflict_resolution": number 0-1, handling of disagreement
  "summary": short string explaining the assessment
Do not wrap the JSON in markdown.`

// AssessmentRequest builds the strict JSON finalization call
func AssessmentRequest(state *models.ConversationActorState, turns []models.Turn, cfg Config) llm.Request {
	var transcript strings.Builder
	for _, turn := range turns {
		name := state.Persona(turn.Speaker).DisplayName
		fmt.Fprintf(&transcript, "[%d] %s: %s\n", turn.RoundNumber, name, turn.Content)
	}

	instruction := assessmentInstruction
	if state.Language == LanguageJapanese {
		instruction += "\nWrite the summary in Japanese."
	}

	return llm.Request{
		Purpose:           "assessment",
		SystemInstruction: instruction,
		Messages:          []llm.Message{{Role: llm.RoleUser, Text: "Conversation transcript:\n" + transcript.String()}},
		Temperature:       0.2,
		MaxOutputTokens:   cfg.AssessmentMaxOutputTokens,
		JSON:              true,
	}
}
