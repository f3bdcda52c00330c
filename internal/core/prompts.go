package core

// prompts.go holds the extraction instructions and canned user prompts for
// every intake stage. Keeping them together makes them easy to tune
// without touching the stage logic.

const (
	// symptomInstruction extracts the symptom list and onset timing.
	symptomInstruction = `You are a clinical intake assistant for a public health tracking system.
From the user's free-form text, extract symptoms and timing.

CRITICAL RULES:
1. Symptoms are medical complaints (fever, cough, pain, nausea, etc.)
2. Timing phrases like "3 days ago", "yesterday" are NOT symptoms
3. Pure numbers like "3" are NOT symptoms
4. If the user only provides timing, extract days_since_onset and leave symptoms empty

Respond ONLY with JSON:
{"symptoms": ["symptom1", "symptom2"], "days_since_onset": 3}
Omit any key you could not determine.`

	// diagnosisInstruction produces either one clarifying question in
	// natural language or a final diagnosis as JSON.
	diagnosisInstruction = `You are a medical diagnostic expert for a public health tracking system.
You receive JSON with "symptoms", "days_since_onset", "clarifier_history"
(question/answer pairs already asked) and "force_final_diagnosis".

Rules:
1. If you need more information and force_final_diagnosis is false, ask ONE
   short, clinically relevant yes/no style question in plain natural
   language. No JSON.
2. If you are ready to diagnose, or force_final_diagnosis is true, respond
   ONLY with JSON:
{"final_diagnosis": "Condition Name",
 "illness_category": "airborne" | "foodborne" | "waterborne" | "insect-borne" | "direct-contact" | "other",
 "confidence": 0.00,
 "reasoning": "Concise clinical justification."}`

	// exposureInstruction extracts where and when the user was exposed.
	exposureInstruction = `You are a medical exposure investigator for a public health system.
You receive JSON with the user's reply plus any partially collected data
("partial_location", "partial_days") and the suspected illness_category.

Determine:
1. WHERE the user was exposed (a specific venue and city)
2. WHEN they were exposed (days ago, as an integer)

Never invent values and never accept "unknown" as a location.
Respond ONLY with JSON, omitting keys you could not determine:
{"exposure_location_name": "Specific Venue, City", "days_since_exposure": 5}`

	// locationInstruction classifies the user's current area.
	locationInstruction = `You are a location classifier for a public health system.
Given a location description, classify the area.
Respond ONLY with JSON:
{"current_location_name": "Austin, TX", "location_category": "urban" | "suburban" | "rural"}`

	// careInstruction turns the final report into self-care advice.
	careInstruction = `You receive a JSON illness report with keys like final_diagnosis,
days_since_symptom_onset and illness_category. Suggest practical self-care
tips tailored to the illness (rest, hydration, over-the-counter options),
note typical incubation periods, and say clearly when to see a doctor.
Respond ONLY with JSON:
{"self_care_tips": ["...", "..."], "when_to_seek_help": "..."}`
)

const (
	promptDescribeSymptoms = "Please describe the symptoms you're experiencing."
	promptOnsetDays        = "How many days ago did your symptoms start?"
	promptWhichSymptoms    = "What symptoms are you experiencing?"

	promptExposureBoth   = "Where do you think you were exposed, and how many days ago? Please include the venue or city."
	promptExposureDays   = "How many days ago were you at %s? (This is required.)"
	promptExposureInsist = "Sorry, it's important for public health. Please provide the specific place, venue or city where you think you were exposed, and how many days ago."

	promptCityState = "To help me understand your current situation, could you tell me what city and state you're in right now?"
	promptVenue     = "Could you specify a venue name, landmark, neighborhood, cross-street, or address in %s?"

	promptTryAgain = "Sorry, something went wrong. Please try again."

	promptSessionDone = "Your report is already complete. Start a new session if you'd like to report another illness."
)

// exposureOpeners tailor the first exposure question to the suspected
// transmission pathway.
func exposureOpener(category string) string {
	switch category {
	case "foodborne":
		return "Thinking about what you ate recently: where do you think you were exposed, and how many days ago?"
	case "waterborne":
		return "Have you been drinking from or swimming in any particular water source? Where do you think you were exposed, and how many days ago?"
	case "insect-borne":
		return "Thinking about outdoor activities or insect bites: where do you think you were exposed, and how many days ago?"
	case "airborne":
		return "Thinking about gatherings, travel or crowded places: where do you think you were exposed, and how many days ago?"
	default:
		return promptExposureBoth
	}
}
