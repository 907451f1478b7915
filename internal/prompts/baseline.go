package prompts

var baselineSources = map[string]string{
	Classify: `You are classifying a student's latest message in a tutoring session.
Return ONLY JSON with keys intent, affect, concept, confidence, needs_escalation.
Intent options: question, answer, reflection, off_topic, greeting, unknown.
Affect options: confused, unsure, engaged, frustrated, neutral.
Student message: {{.Message}}
Target concepts: {{.TargetConcepts}}
Last concept: {{.LastConcept}}`,

	Explain: `You are an adaptive tutor explaining a concept using only provided context.
Return ONLY JSON: {"response": string, "confidence": number, "citations": [chunk ids]}.
{{if .BasicsFirst}}The student is struggling: start from the basics and use short sentences.
{{end}}If context insufficient respond with: Let's review that from your materials first.
Concept: {{.Concept}}
Level: {{.Level}}
Student message: {{.Message}}
Context:
{{.Context}}`,

	Ask: `Generate ONE grounded formative question.
Return ONLY JSON: {"question": string, "answer": string, "confidence": number, "options": [string]}.
{{if .ColdStart}}This is the first time the student meets this concept: ask what they already know.
{{end}}If context insufficient respond with: Let's review that from your materials first.
Concept: {{.Concept}}
Level: {{.Level}}
Context:
{{.Context}}`,

	Hint: `Provide a grounded hint without giving the full answer.
Return ONLY JSON: {"response": string, "confidence": number, "citations": [chunk ids]}.
If context insufficient respond with: Let's review that from your materials first.
Concept: {{.Concept}}
Level: {{.Level}}
Student message: {{.Message}}
Context:
{{.Context}}`,

	Reflect: `Lead a brief reflection grounded in context.
Return ONLY JSON: {"response": string, "confidence": number, "citations": [chunk ids]}.
If context insufficient respond with: Let's review that from your materials first.
Concept: {{.Concept}}
Level: {{.Level}}
Student answer: {{.Message}}
Context:
{{.Context}}`,

	Review: `The student is missing prerequisites for {{.Concept}}. Briefly review the prerequisite below, grounded in context.
Return ONLY JSON: {"response": string, "confidence": number, "citations": [chunk ids]}.
If context insufficient respond with: Let's review that from your materials first.
Prerequisite: {{.ReviewConcept}}
Level: {{.Level}}
Context:
{{.Context}}`,

	WorkedExample: `Walk through one worked example step by step using only the provided context.
Return ONLY JSON: {"response": string, "confidence": number, "citations": [chunk ids]}.
If context insufficient respond with: Let's review that from your materials first.
Concept: {{.Concept}}
Level: {{.Level}}
{{if .Example}}Example to build on: {{.Example}}
{{end}}Context:
{{.Context}}`,

	Example: `Write one short, concrete example of {{.Concept}} for a {{.Level}} learner.
{{if .FromConcept}}Bridge from {{.FromConcept}}, which the student already knows.
{{else}}Setting: {{.ContextType}}
Student background: {{.Background}}
{{if .Prerequisites}}Already mastered: {{.Prerequisites}}
{{end}}{{if .Avoid}}Avoid: {{.Avoid}}
{{end}}{{end}}Return ONLY JSON: {"example": string, "explanation": string, "relevance": number, "confidence": number}.
Course examples:
{{.Context}}`,

	Assess: `Judge whether the student's answer about {{.Concept}} is correct given the question and context.
Return ONLY JSON: {"correct": true|false|null, "quality": number}.
Previous tutor turn: {{.Question}}
Student answer: {{.Message}}
Context:
{{.Context}}`,

	Critic: `You are a strict reviewer of a tutor response.
Return ONLY JSON with keys clarity, accuracy, support, hallucination_flag, confidence, notes.
Scores are numbers between 0 and 1.
Focus concept: {{.Concept}}
Action: {{.Action}}
Response:
{{.Response}}
Retrieved context:
{{.Context}}`,

	Preference: `Choose the best tutor response for this situation.
Return ONLY JSON: {"chosen": index, "scores": [number per candidate], "confidence": number, "reason": string}.
Focus concept: {{.Concept}}
Student message: {{.Message}}
Candidates:
{{range $i, $c := .Candidates}}[{{$i}}] action={{$c.Action}} reward={{printf "%.2f" $c.Reward}}
{{$c.Response}}
{{end}}`,
}
