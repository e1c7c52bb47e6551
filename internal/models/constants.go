package models

const (
	SourceTagRegex     = `Book:\s*(.+?)\s*,\s*Page Number\s*-\s*(\d+)`
	SourceTagFormat    = "Book: %s, Page Number - %d, %s"
	VariantPrefixRegex = `^\s*(?:[-*•]|\d+[.)])\s*`
	BoldMarkerRegex    = `\*+`
	MoreDetailsRegex   = `(?is)For more details.*$`
	ImageNameFormat    = "%s_page_%d_image_%d.png"
	ContextSeparator   = "\n\n"

	// Metadata keys stored next to every vector.
	MetaBook    = "book"
	MetaPage    = "page"
	MetaChunkID = "chunk_id"
	MetaOrdinal = "ordinal"

	OutputTextKey = "output_text"
)

var (
	// AnswerPromptTemplate is a go template rendered with "context" and "question".
	AnswerPromptTemplate = `Answer the question from the context provided. Explain in as much detail as possible.
Context:
{{.context}}

Question:
{{.question}} Explain in detail.

Answer:
`

	// MultiQueryPromptTemplate asks the model for paraphrases of the question, one per line.
	MultiQueryPromptTemplate = `You are an AI language model assistant. Your task is to generate {{.count}} different versions of the given user question to retrieve relevant documents from a vector database. By generating multiple perspectives on the user question, your goal is to help the user overcome some of the limitations of distance-based similarity search. Provide these alternative questions separated by newlines and nothing else.
Original question: {{.question}}
`

	GenerationFailedMessage = "Sorry, I could not generate a response. Please try again."
	QuotaExceededMessage    = "You have reached the limit of free queries. Please consider our pricing options for further use."
	InvalidEmailMessage     = "Invalid email. Please try again."
	NoBookSelectedMessage   = "Please select a book to chat with."
	BusyMessage             = "A response is still being generated. Please wait."
)
