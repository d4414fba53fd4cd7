package core

// prompts.go holds the prompts sent to the two models.  Keeping them in one
// file makes them easy to tweak without touching the rest of the code.

const (
	// AssistantPrompt frames a single patient message for the light chat
	// model.  No earlier turns are included.
	AssistantPrompt = "You are a friendly AI assistant. Patient: %s\nAI:"

	// AnalysisInstruction is the fixed contract with the analysis model.  The
	// key set it demands must match pkg.Snapshot.  $CHAT is replaced with the
	// JSON transcript, oldest turn first.
	AnalysisInstruction = `
You are assisting a clinician by analyzing a patient's chat conversation with an AI support assistant.
Output a single JSON object with EXACTLY these keys and shapes:

- "summary": string – a concise, professional summary (5-8 sentences) focusing on emotional state, risks, and guidance for clinician follow-up.

- "moodTimeline": object – line chart of mood over time
  {"labels": ["2025-08-09T10:01:00Z", "2025-08-09T11:07:00Z"], "data": [-0.2, 0.4]}

- "activity": object – messages per day
  {"labels": ["2025-08-08", "2025-08-09"], "data": [3, 7]}

- "urgencyDistribution": object – doughnut chart
  {"labels": ["Low","Medium","High"], "data": [70, 25, 5]}

- "emotionRadar": object – radar chart
  {"labels": ["Joy","Anger","Sadness","Anxiety","Surprise"], "data": [6, 2, 4, 5, 3]}

- "highlights": array of 5-10 key messages
  [{"message": "text", "reason": "why notable", "timestamp": "2025-08-09T10:01:00Z"}]

- "criticalFlags": array of messages needing attention (self-harm, suicidal ideation, panic, severe depression, withdrawal)
  [{"message": "text", "category": "Self-harm", "severity": 85, "timestamp": "2025-08-09T11:07:00Z"}]

- "keywords": array – common terms/phrases
  [{"term": "sleep", "count": 5}]

- "emojiCloud": array – emojis and counts
  [{"emoji": "😊", "count": 4}]

IMPORTANT:
- Return ONLY the JSON (no commentary, code fences, or markdown).
- If something is unavailable, return an empty array/object for that field.

Chat Conversation (oldest first):
$CHAT
`

	// EmptyHistorySummary is the summary of the snapshot returned when a
	// patient has not chatted yet.
	EmptyHistorySummary = "No chat history."
)

var (
	urgencyLabels = []string{"Low", "Medium", "High"}
	emotionLabels = []string{"Joy", "Anger", "Sadness", "Anxiety", "Surprise"}
)
