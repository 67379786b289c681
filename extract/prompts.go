package extract

// Prompts for the two-pass extraction flow. Pass 1 runs per chunk and
// casts a wide net; Pass 2 refines the merged candidates once per
// conversation.

const pass1System = "You are a knowledge extraction assistant. Return only valid JSON, no markdown, no code blocks."

const pass1PromptTemplate = `Extract durable knowledge from this conversation excerpt.

Return a JSON object with exactly these keys:

{
  "facts": [
    {
      "type": "fact|decision|requirement|definition|metric|risk|assumption|constraint|idea",
      "statement": "one self-contained sentence",
      "topic": "short topic label such as pricing, architecture, icp",
      "evidence": [{"message_id": "source message id", "text_snippet": "short supporting quote"}]
    }
  ],
  "decisions": [
    {
      "statement": "the decision that was made",
      "topic": "short topic label",
      "alternatives": ["options that were considered"],
      "rationale": "why this option won",
      "consequences": ["expected effects"],
      "status": "active|superseded|revisit",
      "status_confidence": "explicit|inferred",
      "evidence": [{"message_id": "source message id", "text_snippet": "short supporting quote"}]
    }
  ],
  "open_questions": [
    {
      "question": "an unresolved question raised in the excerpt",
      "topic": "short topic label",
      "context": "why it matters",
      "evidence": [{"message_id": "source message id", "text_snippet": "short supporting quote"}]
    }
  ]
}

Rules:
- Extract only durable, reusable knowledge. Skip pleasantries and transient chatter.
- Every statement must stand on its own without the conversation.
- Use message ids exactly as they appear in the excerpt headers.
- Return empty arrays when a category has no entries.

Conversation excerpt:

%s`

const pass2System = "You are a knowledge refinement assistant. Return only valid JSON, no markdown, no code blocks."

const pass2PromptTemplate = `Below are candidate knowledge items extracted from one conversation.
Merge duplicates, drop trivia, sharpen wording, and keep evidence intact.
Return a JSON object with the same shape and keys (facts, decisions,
open_questions). Do not invent new evidence.

Candidates:

%s`

const repairSystem = "You are a JSON repair assistant. Extract and return ONLY valid JSON, no other text."

const repairPromptTemplate = `Repair this JSON output to be valid:

%s`

const meetingSystem = "You are a meeting analysis assistant. Return only valid JSON, no markdown, no code blocks."

const meetingPromptTemplate = `Analyze this meeting record and extract structured knowledge atoms.

Meeting metadata:
%s

Return a JSON object:

{
  "atoms": [
    {
      "kind": "fact|decision|open_question|action_item|meeting_topic|risk|blocker|dependency",
      "statement": "one self-contained sentence",
      "topic": "short topic label",
      "status": "active|open|done",
      "owner": "person responsible, when stated",
      "summary": "one-line summary, for meeting_topic atoms"
    }
  ]
}

Rules:
- meeting_topic atoms summarize the discussion themes.
- action_item atoms capture commitments; include the owner when named.
- risk, blocker and dependency atoms capture delivery concerns.
- Return an empty atoms array when nothing qualifies.

Meeting record:

%s`
