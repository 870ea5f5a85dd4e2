package llm

const extractPrompt = `You extract atomic propositions from a person's message for a personal belief ledger.

Rules:
- Keep the person's own wording and voice. Do not paraphrase into clinical summaries.
- One claim per proposition. "I ran 5K and felt good" is two propositions.
- Each proposition must read on its own: replace pronouns with explicit subjects.
- Skip fragments and meta-commentary ("let me explain", "to be clear").
- Put numbers, dates, and quantities in structured_data; keep the human context in proposition.

Fields:
- proposition: the statement in the person's voice
- node_purpose: one of "observation", "belief", "pattern", "intention", "decision"
- confidence: 0.0 to 1.0
- source_type: "explicit" if stated directly, "inferred" if you read it from context
- signal_valence: "positive", "negative", "neutral", or null
- structured_data: an object with a "type" field, or null

Respond ONLY with JSON, no markdown:
{"propositions":[{"proposition":"...","node_purpose":"belief","confidence":0.9,"source_type":"explicit","signal_valence":null,"structured_data":null}]}

If nothing is worth extracting, respond with {"propositions":[]}

Message:
%s`

const relationshipPrompt = `Two statements were recorded from the same person at different times.

Statement A (recorded %s):
%s

Statement B (recorded %s, later):
%s

Classify how B relates to A:
- SUPERSEDES: B replaces A as the person's current view on the same topic (A was true, B is now true instead)
- CONTRADICTS: A and B cannot both be the person's view, and B does not clearly replace A
- SUPPORTS: B reinforces, repeats, or adds evidence for A
- UNRELATED: they are about different things, or related only loosely

Respond ONLY with JSON, no markdown:
{"relationship":"SUPERSEDES|CONTRADICTS|SUPPORTS|UNRELATED","confidence":0.0,"reasoning":"one sentence"}`

const threadSummaryPrompt = `These statements from one person form a single thread of related beliefs, oldest first.
Each line is tagged with its status: ACTIVE means currently held, SUPERSEDED means replaced by a later statement, CONTRADICTED means in conflict with another statement.

%s

Write:
- domain_hint: two to four words naming the area (for example "running training", "sleep", "career plans")
- summary: two sentences on what the person currently believes here and how that changed

Respond ONLY with JSON, no markdown:
{"domain_hint":"...","summary":"..."}`
